package encoder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

func baseRequest() Request {
	return Request{
		SourcePath:   "/videos/movie.mkv",
		SeekPTS:      12.0,
		Duration:     6.0,
		SourceWidth:  1920,
		SourceHeight: 1080,
		SourceFPS:    24,
		Profile: Profile{
			Label:           "720p",
			Width:           1280,
			Height:          720,
			VideoBitrateBPS: 3_000_000,
			MaxBitrateBPS:   3_500_000,
			BufferSizeBits:  6_000_000,
			AudioBitrateBPS: 128_000,
		},
		SourceHasAudio:       true,
		TargetSegmentSeconds: 6.0,
		OutTmpPath:           "/cache/m1/720p/segment_005.ts.tmp",
	}
}

func TestBuildArgs_SeeksBeforeInput(t *testing.T) {
	args := buildArgs(baseRequest())
	ssIdx := indexOf(args, "-ss")
	iIdx := indexOf(args, "-i")
	require.NotEqual(t, -1, ssIdx)
	require.NotEqual(t, -1, iIdx)
	require.Less(t, ssIdx, iIdx, "-ss must precede -i to exploit keyframe-aligned seeking")
}

func TestBuildArgs_ScalesWhenResolutionDiffers(t *testing.T) {
	args := buildArgs(baseRequest())
	require.Contains(t, strings.Join(args, " "), "scale=1280:720:flags=lanczos")
}

func TestBuildArgs_NoScaleWhenResolutionMatches(t *testing.T) {
	req := baseRequest()
	req.Profile.Width = 1920
	req.Profile.Height = 1080
	args := buildArgs(req)
	require.NotContains(t, strings.Join(args, " "), "scale=")
}

func TestBuildArgs_SilentAudioWhenSourceHasNone(t *testing.T) {
	req := baseRequest()
	req.SourceHasAudio = false
	args := buildArgs(req)
	joined := strings.Join(args, " ")
	require.Contains(t, joined, "anullsrc=channel_layout=stereo:sample_rate=48000")
	require.Contains(t, joined, "-shortest")
}

func TestBuildArgs_GOPMatchesFPSTimesTargetDuration(t *testing.T) {
	req := baseRequest()
	req.SourceFPS = 30
	req.TargetSegmentSeconds = 4
	args := buildArgs(req)
	gIdx := indexOf(args, "-g")
	require.NotEqual(t, -1, gIdx)
	require.Equal(t, "120", args[gIdx+1])
}

func TestBuildArgs_BitrateFromProfile(t *testing.T) {
	args := buildArgs(baseRequest())
	joined := strings.Join(args, " ")
	require.Contains(t, joined, "-b:v 3000000")
	require.Contains(t, joined, "-maxrate 3500000")
	require.Contains(t, joined, "-bufsize 6000000")
	require.Contains(t, joined, "-b:a 128000")
}

func TestEncodeSegment_MissingBinaryReturnsEncoderError(t *testing.T) {
	tool := New("/nonexistent/ffmpeg-binary-for-tests", testLogger())
	err := tool.EncodeSegment(context.Background(), baseRequest())
	require.Error(t, err)
}

func TestEncodeSegment_ShortCallerDeadlineReturnsError(t *testing.T) {
	// EncodeSegment returns an error when called under a caller deadline
	// far shorter than minTimeout. `sleep` rejects the ffmpeg-style
	// arguments, so the error can come from its non-zero exit as well as
	// from the deadline; the minTimeout floor itself is not observed here.
	req := baseRequest()
	req.Duration = 0.1
	tool := New("sleep", testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tool.EncodeSegment(ctx, req)
	require.Error(t, err)
}

func TestShutdown_NoActiveProcesses(t *testing.T) {
	tool := New("ffmpeg", testLogger())
	tool.Shutdown(context.Background())
	require.Equal(t, 0, tool.ActiveCount())
}

func indexOf(args []string, target string) int {
	for i, a := range args {
		if a == target {
			return i
		}
	}
	return -1
}
