package coordinator

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/laurelhollow/streamhls/internal/analysis"
	"github.com/laurelhollow/streamhls/internal/cache"
	"github.com/laurelhollow/streamhls/internal/encoder"
	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/mediarepo"
	"github.com/laurelhollow/streamhls/internal/probe"
)

type fakeMediaRepo struct {
	records map[string]*mediarepo.Media
}

func (f *fakeMediaRepo) FindByID(mediaID string) (*mediarepo.Media, error) {
	m, ok := f.records[mediaID]
	if !ok {
		return nil, kinderr.New(kinderr.NotFound, "media not found")
	}
	return m, nil
}

type fakeProbeTool struct {
	format    *probe.Format
	keyframes []probe.Keyframe
}

func (f *fakeProbeTool) ProbeFormat(ctx context.Context, path string) (*probe.Format, error) {
	return f.format, nil
}

func (f *fakeProbeTool) ProbeKeyframes(ctx context.Context, path string) ([]probe.Keyframe, error) {
	return f.keyframes, nil
}

// countingEncoder records the number of invocations and writes a small
// payload to the tmp path on success.
type countingEncoder struct {
	calls   int32
	mu      sync.Mutex
	seen    []string
	failing bool
}

func (e *countingEncoder) EncodeSegment(ctx context.Context, req encoder.Request) error {
	atomic.AddInt32(&e.calls, 1)
	e.mu.Lock()
	e.seen = append(e.seen, req.OutTmpPath)
	e.mu.Unlock()

	if e.failing {
		os.WriteFile(req.OutTmpPath, []byte("partial"), 0o644)
		return &encoder.Error{ExitCode: 1, StderrTail: "boom"}
	}
	return os.WriteFile(req.OutTmpPath, []byte("full-segment-bytes"), 0o644)
}

func newTestCoordinator(t *testing.T, enc encoder.Tool) (*Coordinator, *cache.Cache, string) {
	t.Helper()
	return newTestCoordinatorWithLimit(t, enc, 4)
}

func newTestCoordinatorWithLimit(t *testing.T, enc encoder.Tool, maxConcurrentEncodes int) (*Coordinator, *cache.Cache, string) {
	t.Helper()
	dir := t.TempDir()
	c := cache.New(dir, 3)

	repo := &fakeMediaRepo{records: map[string]*mediarepo.Media{
		"m1": {ID: "m1", SourcePath: "/videos/m1.mkv"},
	}}
	pt := &fakeProbeTool{
		format:    &probe.Format{DurationSeconds: 20, Width: 1920, Height: 1080, FPS: 24},
		keyframes: []probe.Keyframe{{Index: 0, PTS: 0}, {Index: 1, PTS: 6}, {Index: 2, PTS: 12}, {Index: 3, PTS: 18}},
	}
	builder := analysis.NewBuilder(analysis.NewStore(), repo, pt, 6.0)

	return New(builder, c, enc, hclog.NewNullLogger(), 6.0, 3, maxConcurrentEncodes), c, dir
}

// blockingEncoder holds each EncodeSegment call open until release is
// closed, tracking the highest number of concurrent calls observed.
type blockingEncoder struct {
	current int32
	maxSeen int32
	release chan struct{}
}

func (e *blockingEncoder) EncodeSegment(ctx context.Context, req encoder.Request) error {
	n := atomic.AddInt32(&e.current, 1)
	for {
		old := atomic.LoadInt32(&e.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&e.maxSeen, old, n) {
			break
		}
	}
	<-e.release
	atomic.AddInt32(&e.current, -1)
	return os.WriteFile(req.OutTmpPath, []byte("segment"), 0o644)
}

func TestEnsureSegment_ScenarioE_Coalescing(t *testing.T) {
	enc := &countingEncoder{}
	coord, c, _ := newTestCoordinator(t, enc)

	const n = 10
	var wg sync.WaitGroup
	paths := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := coord.EnsureSegment(context.Background(), "m1", "720p", 0)
			paths[i] = p
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, paths[0], paths[i])
	}
	require.EqualValues(t, 1, enc.calls)
	require.True(t, c.Exists(paths[0]))
}

func TestEnsureSegment_CachedSegmentSkipsEncoder(t *testing.T) {
	enc := &countingEncoder{}
	coord, c, _ := newTestCoordinator(t, enc)

	p1, err := coord.EnsureSegment(context.Background(), "m1", "720p", 1)
	require.NoError(t, err)
	require.True(t, c.Exists(p1))

	p2, err := coord.EnsureSegment(context.Background(), "m1", "720p", 1)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
	require.EqualValues(t, 1, enc.calls)
}

func TestEnsureSegment_ScenarioF_PartialWriteSafety(t *testing.T) {
	enc := &countingEncoder{failing: true}
	coord, c, _ := newTestCoordinator(t, enc)

	path, err := coord.EnsureSegment(context.Background(), "m1", "720p", 2)
	require.Error(t, err)
	require.Empty(t, path)

	finalPath := c.PathForSegment("m1", "720p", 2)
	require.False(t, c.Exists(finalPath))
	require.NoFileExists(t, finalPath+".tmp")

	// A subsequent call with a working encoder succeeds.
	enc.failing = false
	path, err = coord.EnsureSegment(context.Background(), "m1", "720p", 2)
	require.NoError(t, err)
	require.True(t, c.Exists(path))
}

func TestEnsureSegment_BoundedByMaxConcurrentEncodes(t *testing.T) {
	enc := &blockingEncoder{release: make(chan struct{})}
	coord, _, _ := newTestCoordinatorWithLimit(t, enc, 2)

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, _ = coord.EnsureSegment(context.Background(), "m1", "720p", index)
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&enc.current) == 2 }, time.Second, time.Millisecond)
	require.EqualValues(t, 2, atomic.LoadInt32(&enc.maxSeen))

	close(enc.release)
	wg.Wait()
	require.EqualValues(t, 2, atomic.LoadInt32(&enc.maxSeen))
}

func TestEnsureSegment_UnknownIndexIsNotFound(t *testing.T) {
	enc := &countingEncoder{}
	coord, _, _ := newTestCoordinator(t, enc)

	_, err := coord.EnsureSegment(context.Background(), "m1", "720p", 9999)
	require.Error(t, err)
	require.Equal(t, kinderr.NotFound, kinderr.KindOf(err))
}

func TestEnsureMasterPlaylist_MaterializedOnce(t *testing.T) {
	enc := &countingEncoder{}
	coord, c, _ := newTestCoordinator(t, enc)

	p1, err := coord.EnsureMasterPlaylist(context.Background(), "m1")
	require.NoError(t, err)
	require.True(t, c.Exists(p1))

	p2, err := coord.EnsureMasterPlaylist(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestEnsureVariantPlaylist_UnknownQuality(t *testing.T) {
	enc := &countingEncoder{}
	coord, _, _ := newTestCoordinator(t, enc)

	_, err := coord.EnsureVariantPlaylist(context.Background(), "m1", "9999p")
	require.Error(t, err)
	require.Equal(t, kinderr.UnknownQuality, kinderr.KindOf(err))
}
