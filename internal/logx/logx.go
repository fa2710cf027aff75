// Package logx builds the structured root logger for streamhls and hands
// out named children per component, mirroring the hclog usage already
// present in the media server's playback module.
package logx

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options controls root logger construction.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // "auto", "json", or "standard"
}

// New builds the process-wide root logger. Pass the result (or a
// .Named(...) child of it) into every collaborator constructor; nothing
// in the core looks up a logger through a package-level global.
func New(opts Options) hclog.Logger {
	jsonFormat := opts.Format == "json"
	return hclog.New(&hclog.LoggerOptions{
		Name:       "streamhls",
		Level:      hclog.LevelFromString(opts.Level),
		Output:     os.Stderr,
		JSONFormat: jsonFormat,
	})
}

// Streaming returns the logger for the streaming category named in the
// Logger collaborator contract (§6: "category for this subsystem is
// streaming").
func Streaming(root hclog.Logger) hclog.Logger {
	return root.Named("streaming")
}
