// Package httpapi wires the streaming facade to HTTP handlers: the
// master/variant/segment GET routes, a live build-progress WebSocket
// feed, a healthz probe, and a stats endpoint. Route and handler shape
// follow the media server's playback module routes/handler split;
// the WebSocket broadcaster follows its dashboard API's upgrade and
// fan-out pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/laurelhollow/streamhls/internal/encoder"
	"github.com/laurelhollow/streamhls/internal/events"
	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/laurelhollow/streamhls/internal/mediarepo"
	"github.com/laurelhollow/streamhls/internal/streaming"
)

// Facade is the subset of streaming.Facade the HTTP layer consumes.
type Facade interface {
	GetMasterPlaylist(ctx context.Context, mediaID string) (string, error)
	GetVariantPlaylist(ctx context.Context, mediaID, quality string) (string, error)
	GetSegment(ctx context.Context, mediaID, quality, filename string) (string, error)
}

var _ Facade = (*streaming.Facade)(nil)

// Stats is the shape returned by GET /api/streaming/stats.
type Stats struct {
	MediaCount     int64 `json:"media_count"`
	ActiveEncodes  int   `json:"active_encodes"`
}

// Handler serves the streaming HTTP surface (spec §6, SPEC_FULL §5).
type Handler struct {
	facade  Facade
	media   *mediarepo.Store
	enc     *encoder.FFmpegTool
	logger  hclog.Logger
	bus     *events.Bus
	upgrader websocket.Upgrader
}

// New constructs a Handler over its collaborators.
func New(facade Facade, media *mediarepo.Store, enc *encoder.FFmpegTool, bus *events.Bus, logger hclog.Logger) *Handler {
	return &Handler{
		facade: facade,
		media:  media,
		enc:    enc,
		bus:    bus,
		logger: logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches every route this package serves to router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HandleHealthz)

	streamingGroup := router.Group("/api/streaming")
	{
		streamingGroup.GET("/stats", h.HandleStats)
		streamingGroup.GET("/events", h.HandleEvents)
		streamingGroup.GET("/:media_id/master.m3u8", h.HandleMasterPlaylist)
		streamingGroup.GET("/:media_id/:quality/playlist.m3u8", h.HandleVariantPlaylist)
		streamingGroup.GET("/:media_id/:quality/:filename", h.HandleSegment)
	}
}

// HandleHealthz reports process liveness.
func (h *Handler) HandleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStats reports basic operational counters.
func (h *Handler) HandleStats(c *gin.Context) {
	count, err := h.media.Count()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Stats{
		MediaCount:    count,
		ActiveEncodes: h.enc.ActiveCount(),
	})
}

// HandleMasterPlaylist serves a media's master playlist.
func (h *Handler) HandleMasterPlaylist(c *gin.Context) {
	mediaID := c.Param("media_id")
	path, err := h.facade.GetMasterPlaylist(c.Request.Context(), mediaID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.bus.Publish(events.NewTicketEvent(events.TicketSucceeded, mediaID, "", "master", ""))
	servePlaylist(c, path)
}

// HandleVariantPlaylist serves one quality's variant playlist.
func (h *Handler) HandleVariantPlaylist(c *gin.Context) {
	mediaID := c.Param("media_id")
	quality := c.Param("quality")
	path, err := h.facade.GetVariantPlaylist(c.Request.Context(), mediaID, quality)
	if err != nil {
		writeError(c, err)
		return
	}
	servePlaylist(c, path)
}

// HandleSegment serves one MPEG-TS segment, encoding it first if
// necessary.
func (h *Handler) HandleSegment(c *gin.Context) {
	mediaID := c.Param("media_id")
	quality := c.Param("quality")
	filename := c.Param("filename")

	h.bus.Publish(events.NewTicketEvent(events.TicketStarted, mediaID, quality, filename, ""))

	path, err := h.facade.GetSegment(c.Request.Context(), mediaID, quality, filename)
	if err != nil {
		h.bus.Publish(events.NewTicketEvent(events.TicketFailed, mediaID, quality, filename, err.Error()))
		writeError(c, err)
		return
	}

	h.bus.Publish(events.NewSegmentReadyEvent(mediaID, quality, filename))
	c.Header("Content-Type", "video/mp2t")
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.File(path)
}

// HandleEvents upgrades to a WebSocket and streams build-progress
// events to the client until it disconnects.
func (h *Handler) HandleEvents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	token := h.bus.Subscribe(func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.TextMessage, payload)
	})
	defer h.bus.Unsubscribe(token)

	// Block on reads purely to detect client disconnect; this feed is
	// server-to-client only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func servePlaylist(c *gin.Context, path string) {
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(path)
}

func writeError(c *gin.Context, err error) {
	kind := kinderr.KindOf(err)
	c.JSON(kinderr.HTTPStatus(kind), gin.H{"error": err.Error(), "kind": kind.String()})
}
