// Package analysis builds and caches the per-media Analysis (spec §3,
// §4.7): source metadata, the keyframe list, the eligible quality
// ladder, and the segment plan. Analysis is built lazily on first
// access and never invalidated within a process; concurrent requests
// for the same media id are coalesced onto a single build via
// golang.org/x/sync/singleflight, the same coalescing primitive the
// BuildCoordinator uses for segment encodes (spec §4.5, §4.7, §9).
package analysis

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/mediarepo"
	"github.com/laurelhollow/streamhls/internal/planner"
	"github.com/laurelhollow/streamhls/internal/probe"
	"github.com/laurelhollow/streamhls/internal/profiles"
)

// Analysis is the immutable, once-built record for one media item
// (spec §3).
type Analysis struct {
	MediaID            string
	SourcePath         string
	ContainerDuration  float64
	SourceWidth        int
	SourceHeight       int
	SourceFPS          float64
	SourceVideoCodec   string
	SourceAudioCodec   string
	Keyframes          []probe.Keyframe
	EligibleProfiles   []profiles.Profile
	SegmentPlan        []planner.Spec
}

// Store is the in-memory, process-lifetime cache of built Analysis
// records keyed by media id (spec §2 AnalysisStore, §9 Singletons: held
// as explicit DI state, not an ambient global).
type Store struct {
	mu    sync.RWMutex
	items map[string]*Analysis
}

// NewStore constructs an empty AnalysisStore.
func NewStore() *Store {
	return &Store{items: make(map[string]*Analysis)}
}

func (s *Store) get(mediaID string) (*Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[mediaID]
	return a, ok
}

func (s *Store) put(a *Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.MediaID] = a
}

// Builder implements GetOrBuildAnalysis (spec §4.7).
type Builder struct {
	store   *Store
	media   mediarepo.Repository
	probe   probe.Tool
	group   singleflight.Group
	targetSegmentSeconds float64
}

// NewBuilder constructs an AnalysisBuilder over the given collaborators.
func NewBuilder(store *Store, media mediarepo.Repository, probeTool probe.Tool, targetSegmentSeconds float64) *Builder {
	return &Builder{store: store, media: media, probe: probeTool, targetSegmentSeconds: targetSegmentSeconds}
}

// GetOrBuildAnalysis returns the cached Analysis for mediaID, building
// it (exactly once across concurrent callers) on first access.
func (b *Builder) GetOrBuildAnalysis(ctx context.Context, mediaID string) (*Analysis, error) {
	if a, ok := b.store.get(mediaID); ok {
		return a, nil
	}

	result, err, _ := b.group.Do(mediaID, func() (interface{}, error) {
		// Re-check under the single-flight latch: a concurrent caller
		// may have already published this analysis while we waited to
		// enter Do.
		if a, ok := b.store.get(mediaID); ok {
			return a, nil
		}
		return b.build(ctx, mediaID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Analysis), nil
}

func (b *Builder) build(ctx context.Context, mediaID string) (*Analysis, error) {
	record, err := b.media.FindByID(mediaID)
	if err != nil {
		return nil, err
	}

	format, err := b.probe.ProbeFormat(ctx, record.SourcePath)
	if err != nil {
		return nil, err
	}

	keyframes, err := b.probe.ProbeKeyframes(ctx, record.SourcePath)
	if err != nil {
		return nil, err
	}

	eligible := profiles.Eligible(format.Width, format.Height)

	plan, err := planner.Plan(keyframes, b.targetSegmentSeconds, format.DurationSeconds)
	if err != nil {
		return nil, err
	}

	videoCodec := format.VideoCodec
	if videoCodec == "" {
		videoCodec = record.StoredVideoCodec
	}
	audioCodec := format.AudioCodec
	if audioCodec == "" {
		audioCodec = record.StoredAudioCodec
	}

	a := &Analysis{
		MediaID:           mediaID,
		SourcePath:        record.SourcePath,
		ContainerDuration: format.DurationSeconds,
		SourceWidth:       format.Width,
		SourceHeight:      format.Height,
		SourceFPS:         format.FPS,
		SourceVideoCodec:  videoCodec,
		SourceAudioCodec:  audioCodec,
		Keyframes:         keyframes,
		EligibleProfiles:  eligible,
		SegmentPlan:       plan,
	}
	b.store.put(a)
	return a, nil
}

// ProfileByLabel looks up a profile within this Analysis's eligible
// ladder; callers must not accept an arbitrary label, only one already
// advertised in this media's master playlist (spec §6 UnknownQuality).
func (a *Analysis) ProfileByLabel(label string) (profiles.Profile, error) {
	for _, p := range a.EligibleProfiles {
		if p.Label == label {
			return p, nil
		}
	}
	return profiles.Profile{}, kinderr.New(kinderr.UnknownQuality, fmt.Sprintf("quality %q is not eligible for this media", label))
}
