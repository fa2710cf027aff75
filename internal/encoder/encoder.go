// Package encoder wraps an external ffmpeg-shaped binary (spec §4.8):
// given a seek point, a duration, and a quality profile, it writes one
// MPEG-TS segment to a tmp path. Argument construction and the
// context-cancel → SIGINT → grace → SIGKILL subprocess lifecycle follow
// the media server's ffmpeg executor; the debug-log-to-file side effect
// in that executor is not carried over, and logging instead goes through
// the injected structured logger like the rest of this codebase.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/laurelhollow/streamhls/internal/kinderr"
)

const (
	minTimeout       = 30 * time.Second
	timeoutPerSecond = 10
	killGrace        = 2 * time.Second
	stderrTailCap    = 4096
)

// Profile carries exactly the fields EncodeSegment needs from a
// QualityProfile (internal/profiles); the encoder package does not
// import internal/profiles to keep the dependency direction leaf-ward.
type Profile struct {
	Label           string
	Width           int
	Height          int
	VideoBitrateBPS int
	MaxBitrateBPS   int
	BufferSizeBits  int
	AudioBitrateBPS int
}

// Request is one EncodeSegment invocation (spec §4.8).
type Request struct {
	SourcePath           string
	SeekPTS              float64
	Duration             float64
	Profile              Profile
	SourceWidth          int
	SourceHeight         int
	SourceFPS            float64
	SourceHasAudio       bool
	TargetSegmentSeconds float64
	OutTmpPath           string
}

// Error is returned by EncodeSegment on a non-zero exit or timeout; it
// carries the exit code and a bounded stderr tail for diagnostics.
type Error struct {
	ExitCode   int
	StderrTail string
	Timeout    bool
	cause      error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("encoder timed out: %s", e.StderrTail)
	}
	return fmt.Sprintf("encoder exited %d: %s", e.ExitCode, e.StderrTail)
}

func (e *Error) Unwrap() error { return e.cause }

// Tool is the EncoderTool collaborator (spec §4.8).
type Tool interface {
	EncodeSegment(ctx context.Context, req Request) error
}

// FFmpegTool invokes a configured ffmpeg-compatible binary and tracks
// every live child process in a registry so Shutdown can terminate them.
type FFmpegTool struct {
	binaryPath string
	logger     hclog.Logger

	mu        sync.Mutex
	processes map[string]*os.Process
}

// New constructs an FFmpegTool.
func New(binaryPath string, logger hclog.Logger) *FFmpegTool {
	return &FFmpegTool{
		binaryPath: binaryPath,
		logger:     logger.Named("encoder"),
		processes:  make(map[string]*os.Process),
	}
}

// EncodeSegment implements Tool.
func (t *FFmpegTool) EncodeSegment(ctx context.Context, req Request) error {
	timeout := time.Duration(math.Max(float64(minTimeout), float64(timeoutPerSecond)*req.Duration*float64(time.Second)))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildArgs(req)
	cmd := exec.CommandContext(ctx, t.binaryPath, args...)
	cmd.Stdin = nil

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	invocationID := uuid.NewString()
	logger := t.logger.With("invocation_id", invocationID, "source", req.SourcePath, "quality", req.Profile.Label)

	if err := cmd.Start(); err != nil {
		return kinderr.Wrap(kinderr.EncoderError, "starting encoder process", err)
	}

	t.register(invocationID, cmd.Process)
	defer t.unregister(invocationID)

	logger.Debug("encoder started", "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	stopWatch := make(chan struct{})
	go t.watchForCancellation(ctx, cmd, logger, stopWatch)

	err := <-done
	close(stopWatch)

	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Timeout: true, StderrTail: tail(stderr.String()), cause: err}
	}
	if err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return &Error{ExitCode: exitCode, StderrTail: tail(stderr.String()), cause: err}
	}

	logger.Debug("encoder finished")
	return nil
}

// watchForCancellation signals SIGINT the moment ctx is canceled (by
// timeout or caller disconnect), then SIGKILLs after killGrace if the
// process has not exited by then. stop is closed once the process has
// already exited normally, so this goroutine never outlives the call.
func (t *FFmpegTool) watchForCancellation(ctx context.Context, cmd *exec.Cmd, logger hclog.Logger, stop <-chan struct{}) {
	select {
	case <-stop:
		return
	case <-ctx.Done():
	}
	if cmd.Process == nil {
		return
	}
	logger.Warn("encoder context canceled, signaling process", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	select {
	case <-stop:
	case <-time.After(killGrace):
		if cmd.ProcessState == nil {
			logger.Warn("encoder did not exit within grace period, killing", "pid", cmd.Process.Pid)
			_ = cmd.Process.Kill()
		}
	}
}

func (t *FFmpegTool) register(id string, proc *os.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processes[id] = proc
}

func (t *FFmpegTool) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processes, id)
}

// Shutdown terminates every still-registered encoder subprocess:
// SIGTERM first, then SIGKILL after a short grace period. It blocks
// until the grace period elapses, matching spec §4.8's "process
// lifecycle" requirement that leaks across process exit are prohibited.
func (t *FFmpegTool) Shutdown(ctx context.Context) {
	t.mu.Lock()
	procs := make([]*os.Process, 0, len(t.processes))
	for _, p := range t.processes {
		procs = append(procs, p)
	}
	t.mu.Unlock()

	for _, p := range procs {
		_ = p.Signal(syscall.SIGTERM)
	}
	if len(procs) == 0 {
		return
	}

	select {
	case <-time.After(killGrace):
	case <-ctx.Done():
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.processes {
		_ = p.Kill()
		delete(t.processes, id)
	}
}

// ActiveCount reports the number of in-flight encoder subprocesses, for
// the /api/streaming/stats endpoint (SPEC_FULL §5).
func (t *FFmpegTool) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processes)
}

func tail(s string) string {
	if len(s) <= stderrTailCap {
		return s
	}
	return s[len(s)-stderrTailCap:]
}

// buildArgs constructs the ffmpeg argument list per spec §4.8.
func buildArgs(req Request) []string {
	gop := int(math.Round(req.SourceFPS * req.TargetSegmentSeconds))
	if gop <= 0 {
		gop = int(math.Round(defaultGOPFPS * req.TargetSegmentSeconds))
	}

	// Input options (and the inputs themselves) must precede output
	// options in ffmpeg's argument grammar: seek-before-input exploits
	// keyframe alignment, then a synthetic silent input is added only
	// when the source has no audio stream.
	args := []string{
		"-y",
		"-ss", formatSeconds(req.SeekPTS),
		"-i", req.SourcePath,
	}
	if !req.SourceHasAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", "anullsrc=channel_layout=stereo:sample_rate=48000",
		)
	}

	args = append(args, "-t", formatSeconds(req.Duration))

	if req.SourceHasAudio {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	} else {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0", "-shortest")
	}

	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level:v", "4.0",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", formatSeconds(req.TargetSegmentSeconds)),
		"-b:v", strconv.Itoa(req.Profile.VideoBitrateBPS),
		"-maxrate", strconv.Itoa(req.Profile.MaxBitrateBPS),
		"-bufsize", strconv.Itoa(req.Profile.BufferSizeBits),
	)

	if req.SourceWidth != req.Profile.Width || req.SourceHeight != req.Profile.Height {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos", req.Profile.Width, req.Profile.Height))
	}

	args = append(args,
		"-c:a", "aac",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", strconv.Itoa(req.Profile.AudioBitrateBPS),
		"-err_detect", "ignore_err",
		"-fflags", "+genpts",
		"-f", "mpegts",
		req.OutTmpPath,
	)

	return args
}

const defaultGOPFPS = 24.0

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
