// Package streaming implements the StreamingFacade (spec §4.6): the
// public surface the HTTP collaborator calls. It validates inputs
// (segment filenames, quality labels, segment indices) and delegates
// everything else to the BuildCoordinator.
package streaming

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/laurelhollow/streamhls/internal/analysis"
	"github.com/laurelhollow/streamhls/internal/coordinator"
	"github.com/laurelhollow/streamhls/internal/kinderr"
)

var segmentNamePattern = regexp.MustCompile(`^segment_(\d+)\.ts$`)

// Facade is the public entry point consumed by the HTTP layer.
type Facade struct {
	builder     *analysis.Builder
	coordinator *coordinator.Coordinator
}

// New constructs a Facade over its collaborators.
func New(builder *analysis.Builder, coord *coordinator.Coordinator) *Facade {
	return &Facade{builder: builder, coordinator: coord}
}

// GetMasterPlaylist returns the path of media_id's master playlist,
// building its Analysis and materializing the playlist if necessary.
func (f *Facade) GetMasterPlaylist(ctx context.Context, mediaID string) (string, error) {
	return f.coordinator.EnsureMasterPlaylist(ctx, mediaID)
}

// GetVariantPlaylist returns the path of one quality's variant
// playlist, or UnknownQuality if quality is not eligible for this media.
func (f *Facade) GetVariantPlaylist(ctx context.Context, mediaID, quality string) (string, error) {
	return f.coordinator.EnsureVariantPlaylist(ctx, mediaID, quality)
}

// GetSegment parses filename, validates it against the media's segment
// plan, and returns the path of the ready segment (encoding it first
// if necessary).
func (f *Facade) GetSegment(ctx context.Context, mediaID, quality, filename string) (string, error) {
	match := segmentNamePattern.FindStringSubmatch(filename)
	if match == nil {
		return "", kinderr.New(kinderr.InvalidSegmentName, fmt.Sprintf("segment filename %q is malformed", filename))
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		return "", kinderr.New(kinderr.InvalidSegmentName, fmt.Sprintf("segment filename %q has a non-numeric index", filename))
	}

	a, err := f.builder.GetOrBuildAnalysis(ctx, mediaID)
	if err != nil {
		return "", err
	}
	if _, err := a.ProfileByLabel(quality); err != nil {
		return "", err
	}
	if index < 0 || index >= len(a.SegmentPlan) {
		return "", kinderr.New(kinderr.NotFound, fmt.Sprintf("segment index %d out of range for media %s", index, mediaID))
	}

	return f.coordinator.EnsureSegment(ctx, mediaID, quality, index)
}
