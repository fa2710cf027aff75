package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/laurelhollow/streamhls/internal/encoder"
	"github.com/laurelhollow/streamhls/internal/events"
	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/mediarepo"
)

type fakeFacade struct {
	masterPath  string
	variantPath string
	segmentPath string
	err         error
}

func (f *fakeFacade) GetMasterPlaylist(ctx context.Context, mediaID string) (string, error) {
	return f.masterPath, f.err
}
func (f *fakeFacade) GetVariantPlaylist(ctx context.Context, mediaID, quality string) (string, error) {
	return f.variantPath, f.err
}
func (f *fakeFacade) GetSegment(ctx context.Context, mediaID, quality, filename string) (string, error) {
	return f.segmentPath, f.err
}

func testStore(t *testing.T) *mediarepo.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&mediarepo.Media{}))
	return mediarepo.NewStore(db)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandleHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(&fakeFacade{}, testStore(t), encoder.New("ffmpeg", hclog.NewNullLogger()), events.New(), hclog.NewNullLogger())
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(&fakeFacade{}, testStore(t), encoder.New("ffmpeg", hclog.NewNullLogger()), events.New(), hclog.NewNullLogger())
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/streaming/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "media_count")
}

func TestHandleMasterPlaylist_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	master := writeFile(t, "master.m3u8", "#EXTM3U\n")
	h := New(&fakeFacade{masterPath: master}, testStore(t), encoder.New("ffmpeg", hclog.NewNullLogger()), events.New(), hclog.NewNullLogger())
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/streaming/m1/master.m3u8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
}

func TestHandleSegment_NotFoundMapsTo404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(&fakeFacade{err: kinderr.New(kinderr.NotFound, "no such segment")}, testStore(t), encoder.New("ffmpeg", hclog.NewNullLogger()), events.New(), hclog.NewNullLogger())
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/streaming/m1/720p/segment_000.ts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSegment_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	segment := writeFile(t, "segment_000.ts", "ts-bytes")
	h := New(&fakeFacade{segmentPath: segment}, testStore(t), encoder.New("ffmpeg", hclog.NewNullLogger()), events.New(), hclog.NewNullLogger())
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/api/streaming/m1/720p/segment_000.ts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
}
