// Package probe wraps an external ffprobe-shaped binary (spec §4.1): one
// call extracts container/stream metadata, another enumerates keyframe
// timestamps. Both shell out via os/exec, the same way the media
// server's content analyzer talks to ffprobe, rather than through a
// probe-binding Go library — the corpus has no such binding to reach for.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/laurelhollow/streamhls/internal/kinderr"
)

const (
	formatTimeout    = 30 * time.Second
	keyframesTimeout = 60 * time.Second
	formatBufferCap  = 1 << 20  // 1 MiB
	keyframeBufferCap = 10 << 20 // 10 MiB
	defaultFPS       = 24.0
)

// Format is the metadata ProbeFormat extracts.
type Format struct {
	DurationSeconds float64
	Width           int
	Height          int
	FPS             float64
	VideoCodec      string
	AudioCodec      string
	BitrateBPS      int64
}

// Keyframe is one entry of the ordered keyframe timestamp list (spec §3).
type Keyframe struct {
	Index int
	PTS   float64
}

// Tool is the ProbeTool collaborator (spec §4.1).
type Tool interface {
	ProbeFormat(ctx context.Context, path string) (*Format, error)
	ProbeKeyframes(ctx context.Context, path string) ([]Keyframe, error)
}

// FFProbeTool invokes a configured ffprobe-compatible binary.
type FFProbeTool struct {
	binaryPath string
	logger     hclog.Logger
}

// New constructs an FFProbeTool. binaryPath is the absolute path (or
// PATH-resolved name) of the probe binary.
func New(binaryPath string, logger hclog.Logger) *FFProbeTool {
	return &FFProbeTool{binaryPath: binaryPath, logger: logger.Named("probe")}
}

// ValidatePath enforces spec §4.1's input-path contract: absolute, no NUL
// bytes, no parent-traversal component.
func ValidatePath(path string) error {
	if path == "" {
		return kinderr.New(kinderr.InvalidPath, "path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return kinderr.New(kinderr.InvalidPath, "path contains a NUL byte")
	}
	if !filepath.IsAbs(path) {
		return kinderr.New(kinderr.InvalidPath, fmt.Sprintf("path %q is not absolute", path))
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return kinderr.New(kinderr.InvalidPath, fmt.Sprintf("path %q contains a parent-traversal component", path))
		}
	}
	return nil
}

type ffprobeFormatOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ProbeFormat implements Tool.
func (t *FFProbeTool) ProbeFormat(ctx context.Context, path string) (*Format, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, formatTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	out, err := t.run(ctx, args, formatBufferCap)
	if err != nil {
		return nil, err
	}

	var parsed ffprobeFormatOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, kinderr.Wrap(kinderr.ProbeError, "parsing ffprobe format output", err)
	}

	format := &Format{FPS: defaultFPS}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			format.DurationSeconds = d
		}
	}
	if parsed.Format.BitRate != "" {
		if b, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			format.BitrateBPS = b
		}
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			format.Width = s.Width
			format.Height = s.Height
			format.VideoCodec = s.CodecName
			if fps, ok := parseRationalFPS(s.RFrameRate); ok {
				format.FPS = fps
			}
		case "audio":
			format.AudioCodec = s.CodecName
		}
	}

	if format.Width == 0 || format.Height == 0 {
		return nil, kinderr.New(kinderr.ProbeError, fmt.Sprintf("no video stream found in %s", path))
	}

	return format, nil
}

func parseRationalFPS(s string) (float64, bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0, false
	}
	return num / den, true
}

type ffprobePacketsOutput struct {
	Packets []struct {
		CodecType string `json:"codec_type"`
		PtsTime   string `json:"pts_time"`
		Flags     string `json:"flags"`
	} `json:"packets"`
}

// ProbeKeyframes implements Tool.
func (t *FFProbeTool) ProbeKeyframes(ctx context.Context, path string) ([]Keyframe, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, keyframesTimeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags,codec_type",
		path,
	}
	out, err := t.run(ctx, args, keyframeBufferCap)
	if err != nil {
		return nil, err
	}

	var parsed ffprobePacketsOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, kinderr.Wrap(kinderr.ProbeError, "parsing ffprobe packet output", err)
	}

	var keyframes []Keyframe
	for _, pkt := range parsed.Packets {
		// flags is a fixed-width string like "K_" where the leading 'K'
		// marks a keyframe packet; ffprobe always prints codec_type even
		// with -select_streams so the filter below is defensive.
		if pkt.CodecType != "" && pkt.CodecType != "video" {
			continue
		}
		if len(pkt.Flags) == 0 || pkt.Flags[0] != 'K' {
			continue
		}
		pts, err := strconv.ParseFloat(pkt.PtsTime, 64)
		if err != nil {
			continue
		}
		keyframes = append(keyframes, Keyframe{Index: len(keyframes), PTS: pts})
	}

	if len(keyframes) == 0 {
		return nil, kinderr.New(kinderr.NoKeyframes, fmt.Sprintf("no keyframes found in %s", path))
	}

	return keyframes, nil
}

// run executes the probe binary with args, enforcing a bounded,
// non-growing output buffer (spec §4.1: ProbeBufferOverflow).
func (t *FFProbeTool) run(ctx context.Context, args []string, bufferCap int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, t.binaryPath, args...)
	cmd.Stdin = nil

	var stdout boundedBuffer
	stdout.limit = bufferCap
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, kinderr.New(kinderr.ProbeTimeout, fmt.Sprintf("%s timed out", t.binaryPath))
	}
	if stdout.overflowed {
		return nil, kinderr.New(kinderr.ProbeBufferOverflow, fmt.Sprintf("%s output exceeded %d bytes", t.binaryPath, bufferCap))
	}
	if err != nil {
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return nil, kinderr.Wrap(kinderr.ProbeError, fmt.Sprintf("%s failed: %s", t.binaryPath, tail), err)
	}
	return stdout.buf.Bytes(), nil
}

// boundedBuffer is an io.Writer that refuses writes past a byte limit
// instead of growing unboundedly, matching spec §4.1's buffer caps.
type boundedBuffer struct {
	buf        bytes.Buffer
	limit      int
	overflowed bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.overflowed {
		return len(p), nil
	}
	if b.buf.Len()+len(p) > b.limit {
		b.overflowed = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

var _ io.Writer = (*boundedBuffer)(nil)
