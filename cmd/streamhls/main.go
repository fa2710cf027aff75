// Command streamhls runs the JIT HLS transcoding server: it resolves
// media by id, analyzes it on first request, and serves master/variant
// playlists and MPEG-TS segments, encoding each segment at most once.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/laurelhollow/streamhls/internal/analysis"
	"github.com/laurelhollow/streamhls/internal/cache"
	"github.com/laurelhollow/streamhls/internal/config"
	"github.com/laurelhollow/streamhls/internal/coordinator"
	"github.com/laurelhollow/streamhls/internal/encoder"
	"github.com/laurelhollow/streamhls/internal/events"
	"github.com/laurelhollow/streamhls/internal/httpapi"
	"github.com/laurelhollow/streamhls/internal/logx"
	"github.com/laurelhollow/streamhls/internal/mediarepo"
	"github.com/laurelhollow/streamhls/internal/probe"
	"github.com/laurelhollow/streamhls/internal/streaming"
	"github.com/laurelhollow/streamhls/internal/sysinfo"
)

func main() {
	// Prefer the real logical core count over config's runtime.NumCPU
	// fallback before Load runs applyDerived, so an unset
	// max_concurrent_encodes sizes itself to the host, not the process's
	// CPU-affinity view of it.
	config.DetectCPUCount = sysinfo.LogicalCoreCount

	configPath := os.Getenv("STREAMHLS_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./streamhls.yaml"); err == nil {
			configPath = "./streamhls.yaml"
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logx.New(logx.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if configPath != "" {
		logger.Info("configuration loaded", "path", configPath)
	} else {
		logger.Info("using default configuration")
	}

	media, err := mediarepo.Open(cfg.Media.DatabasePath)
	if err != nil {
		logger.Error("failed to open media repository", "error", err)
		os.Exit(1)
	}

	probeTool := probe.New(cfg.Tools.ProbeBinaryPath, logger)
	encoderTool := encoder.New(cfg.Tools.EncoderBinaryPath, logger)

	store := analysis.NewStore()
	builder := analysis.NewBuilder(store, media, probeTool, cfg.Streaming.TargetSegmentSeconds)

	segmentCache := cache.New(cfg.Streaming.CacheRoot, cfg.Streaming.SegmentFilenameDigits)
	coord := coordinator.New(builder, segmentCache, encoderTool, logger,
		cfg.Streaming.TargetSegmentSeconds, cfg.Streaming.SegmentFilenameDigits,
		cfg.Streaming.MaxConcurrentEncodes)
	facade := streaming.New(builder, coord)

	bus := events.New()
	handler := httpapi.New(facade, media, encoderTool, bus, logx.Streaming(logger))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down gracefully")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}

		// Let in-flight ffmpeg processes drain (SIGTERM, then a grace
		// period, then SIGKILL) before the process exits.
		encoderTool.Shutdown(shutdownCtx)

		cancel()
	}()

	logger.Info("starting streamhls server", "addr", srv.Addr, "max_concurrent_encodes", cfg.Streaming.MaxConcurrentEncodes)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown complete")
}
