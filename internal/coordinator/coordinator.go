// Package coordinator implements the BuildCoordinator (spec §4.5): the
// concurrency core that guarantees at-most-one in-flight encode per
// (media, quality, segment_index), and a per-(media, quality) and
// per-media latch for playlist materialization. Both are built
// directly on golang.org/x/sync/singleflight.Group rather than a
// hand-rolled ticket map — singleflight already provides exactly the
// "register atomic with existence-check, release atomic with
// last-waiter observation" contract spec.md §9 describes, and the
// encoder's own registry (internal/encoder) separately tracks
// subprocess handles for shutdown.
package coordinator

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hashicorp/go-hclog"

	"github.com/laurelhollow/streamhls/internal/analysis"
	"github.com/laurelhollow/streamhls/internal/cache"
	"github.com/laurelhollow/streamhls/internal/encoder"
	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/planner"
	"github.com/laurelhollow/streamhls/internal/playlist"
)

// Coordinator owns the keyed-mutex table (spec §4.5).
type Coordinator struct {
	builder               *analysis.Builder
	cache                 *cache.Cache
	encoderTool           encoder.Tool
	logger                hclog.Logger
	targetSegmentSeconds  float64
	segmentFilenameDigits int

	segments  singleflight.Group
	playlists singleflight.Group

	// encodeSem bounds how many EncodeSegment calls run at once, sized to
	// streaming.max_concurrent_encodes (spec §5). Acquired only around
	// the actual subprocess invocation, not around playlist/cache work,
	// so a saturated encoder pool never blocks cache-hit reads.
	encodeSem *semaphore.Weighted
}

// New constructs a Coordinator over its collaborators. maxConcurrentEncodes
// bounds the number of ffmpeg subprocesses running at once; values <= 0
// are treated as unbounded.
func New(builder *analysis.Builder, c *cache.Cache, encoderTool encoder.Tool, logger hclog.Logger, targetSegmentSeconds float64, segmentFilenameDigits int, maxConcurrentEncodes int) *Coordinator {
	var sem *semaphore.Weighted
	if maxConcurrentEncodes > 0 {
		sem = semaphore.NewWeighted(int64(maxConcurrentEncodes))
	}
	return &Coordinator{
		builder:               builder,
		cache:                 c,
		encoderTool:           encoderTool,
		logger:                logger.Named("coordinator"),
		targetSegmentSeconds:  targetSegmentSeconds,
		segmentFilenameDigits: segmentFilenameDigits,
		encodeSem:             sem,
	}
}

// EnsureSegment returns the path of a ready, fully-written segment,
// encoding it first if necessary. Concurrent callers for the same
// (media, quality, index) are coalesced onto a single encoder
// invocation (spec §4.5, §8 Scenario E).
func (c *Coordinator) EnsureSegment(ctx context.Context, mediaID, quality string, index int) (string, error) {
	a, err := c.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return "", err
	}

	spec, ok := planner.FindByIndex(a.SegmentPlan, index)
	if !ok {
		return "", kinderr.New(kinderr.NotFound, fmt.Sprintf("segment index %d out of range for media %s", index, mediaID))
	}

	targetPath := c.cache.PathForSegment(mediaID, quality, index)
	if c.cache.Exists(targetPath) {
		return targetPath, nil
	}

	key := fmt.Sprintf("%s|%s|%d", mediaID, quality, index)
	result, err, _ := c.segments.Do(key, func() (interface{}, error) {
		// A concurrent builder may have published this segment while
		// we were waiting to enter Do; re-check before encoding.
		if c.cache.Exists(targetPath) {
			return targetPath, nil
		}
		return c.build(ctx, a, quality, spec, targetPath)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Coordinator) build(ctx context.Context, a *analysis.Analysis, quality string, spec planner.Spec, targetPath string) (string, error) {
	profile, err := a.ProfileByLabel(quality)
	if err != nil {
		return "", err
	}

	tmpPath := targetPath + ".tmp"
	req := encoder.Request{
		SourcePath: a.SourcePath,
		SeekPTS:    spec.StartPTS,
		Duration:   spec.Duration(),
		Profile: encoder.Profile{
			Label:           profile.Label,
			Width:           profile.Width,
			Height:          profile.Height,
			VideoBitrateBPS: profile.VideoBitrateBPS,
			MaxBitrateBPS:   profile.MaxBitrateBPS,
			BufferSizeBits:  profile.BufferSizeBits,
			AudioBitrateBPS: profile.AudioBitrateBPS,
		},
		SourceWidth:          a.SourceWidth,
		SourceHeight:         a.SourceHeight,
		SourceFPS:            a.SourceFPS,
		SourceHasAudio:       a.SourceAudioCodec != "",
		TargetSegmentSeconds: c.targetSegmentSeconds,
		OutTmpPath:           tmpPath,
	}

	if c.encodeSem != nil {
		if err := c.encodeSem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer c.encodeSem.Release(1)
	}

	c.logger.Debug("encoding segment", "media_id", a.MediaID, "quality", quality, "index", spec.Index)

	if err := c.encoderTool.EncodeSegment(ctx, req); err != nil {
		c.cache.RemoveTmp(tmpPath)
		return "", err
	}
	if err := c.cache.PublishSegment(tmpPath, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// EnsureMasterPlaylist materializes a media's master playlist exactly
// once per process lifetime, returning its path (spec §4.5, §4.6).
func (c *Coordinator) EnsureMasterPlaylist(ctx context.Context, mediaID string) (string, error) {
	a, err := c.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return "", err
	}

	path := c.cache.PathForMaster(mediaID)
	if c.cache.Exists(path) {
		return path, nil
	}

	key := "master|" + mediaID
	result, err, _ := c.playlists.Do(key, func() (interface{}, error) {
		if c.cache.Exists(path) {
			return path, nil
		}
		content := playlist.RenderMaster(a.EligibleProfiles)
		if err := c.cache.WriteAtomic(path, func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}); err != nil {
			return nil, err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// EnsureVariantPlaylist materializes one quality's variant playlist
// exactly once per process lifetime, returning its path.
func (c *Coordinator) EnsureVariantPlaylist(ctx context.Context, mediaID, quality string) (string, error) {
	a, err := c.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return "", err
	}
	if _, err := a.ProfileByLabel(quality); err != nil {
		return "", err
	}

	path := c.cache.PathForPlaylist(mediaID, quality)
	if c.cache.Exists(path) {
		return path, nil
	}

	key := "variant|" + mediaID + "|" + quality
	result, err, _ := c.playlists.Do(key, func() (interface{}, error) {
		if c.cache.Exists(path) {
			return path, nil
		}
		content, err := playlist.RenderVariant(a.SegmentPlan, c.segmentFilenameDigits)
		if err != nil {
			return nil, err
		}
		if err := c.cache.WriteAtomic(path, func(w io.Writer) error {
			_, err := w.Write(content)
			return err
		}); err != nil {
			return nil, err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
