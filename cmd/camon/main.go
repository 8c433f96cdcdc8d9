// Command camon ingests a fleet of RTSP cameras, holds their most recent
// footage in memory for low-latency access, automatically archives
// motion- and detection-triggered clips to disk, and serves tiered reads
// across both.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/camon/camon/internal/analytics"
	"github.com/camon/camon/internal/camera"
	"github.com/camon/camon/internal/config"
	"github.com/camon/camon/internal/hotbuffer"
	"github.com/camon/camon/internal/media"
	"github.com/camon/camon/internal/reader"
	"github.com/camon/camon/internal/telemetry"
	"github.com/camon/camon/internal/warmstore"
)

const ptsPerSecond = 90000

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	index := warmstore.NewTierIndex(cfg.Storage.DataDir)
	tieredReader := reader.New(index)

	slog.Info("camon starting",
		"cameras", len(cfg.Cameras),
		"hot_duration", cfg.HotDuration(),
		"storage_enabled", cfg.Storage.Enabled,
		"analytics_enabled", cfg.Analytics.Enabled,
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, cam := range cfg.Cameras {
		cam := cam
		if cfg.Storage.Enabled {
			index.Scan(cam.ID)
		}
		wireCamera(ctx, g, cam, cfg, index, tieredReader, metrics, logger)
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("camon exited with error", "error", err)
		os.Exit(1)
	}
}

// wireCamera builds one camera's full pipeline — Source Runner, Hot
// Buffer, Analytics Sampler, Warm Flusher, and retention Sweeper — and
// registers each stage's goroutine with g. Every camera shares g and its
// context, so a stage that returns a non-nil error cancels that context
// and stops the pipelines of all cameras, not only this one.
func wireCamera(ctx context.Context, g *errgroup.Group, cam config.Camera, cfg *config.Config, index *warmstore.TierIndex, tieredReader *reader.Reader, metrics *telemetry.Metrics, logger *slog.Logger) {
	buf := hotbuffer.New(int64(cfg.Buffer.HotDurationSecs) * ptsPerSecond)
	tieredReader.RegisterCamera(cam.ID, buf)

	runner := camera.NewRunner(camera.Config{
		ID:      cam.ID,
		Command: ffmpegArgs(cam.URL),
	}, func(frame *media.Frame) {
		if err := buf.Push(frame); err != nil {
			logger.Warn("dropping frame", "camera", cam.ID, "error", err)
			return
		}
		metrics.FrameDemuxed(cam.ID)
	}, logger)

	g.Go(func() error { return runner.Run(ctx) })

	g.Go(func() error {
		pollStats(ctx, cam.ID, runner, buf, metrics)
		return nil
	})

	if cfg.Analytics.Enabled {
		wireAnalyticsAndWarmStore(ctx, g, cam, cfg, buf, index, metrics, logger)
	}

	if cfg.Storage.Enabled {
		sweepCfg := warmConfigFrom(cfg)
		sweeper := warmstore.NewSweeper(sweepCfg, index, logger)
		g.Go(func() error { return sweeper.Run(ctx) })
	}
}

// wireAnalyticsAndWarmStore connects the Analytics Sampler's MotionEvent
// and Detection outputs into the Warm Flusher's Trigger input, via a
// bridge goroutine that owns the triggers channel's lifetime: it closes
// triggers once both upstream channels are drained and closed, or as soon
// as ctx is canceled, giving the Flusher a chance to write any still-pending window before
// the camera's pipeline fully winds down.
func wireAnalyticsAndWarmStore(ctx context.Context, g *errgroup.Group, cam config.Camera, cfg *config.Config, buf *hotbuffer.Buffer, index *warmstore.TierIndex, metrics *telemetry.Metrics, logger *slog.Logger) {
	events := make(chan *analytics.MotionEvent, 16)
	detections := make(chan *analytics.Detection, 16)

	sampler, err := analytics.NewSampler(cam.ID, analyticsConfigFrom(cfg), buf, events, detections, logger)
	if err != nil {
		logger.Error("failed to start analytics sampler", "camera", cam.ID, "error", err)
		return
	}

	g.Go(func() error {
		defer close(events)
		defer close(detections)
		return sampler.Run(ctx)
	})

	if !cfg.Storage.Enabled {
		// Nothing consumes events/detections beyond the sampler itself;
		// drain them so the sampler never blocks on a full channel.
		g.Go(func() error {
			for range events {
			}
			return nil
		})
		g.Go(func() error {
			for range detections {
			}
			return nil
		})
		return
	}

	warmCfg := warmConfigFrom(cfg)
	triggers := make(chan warmstore.Trigger, 16)

	g.Go(func() error {
		bridgeTriggers(ctx, warmCfg, cam.ID, events, detections, triggers)
		return nil
	})

	flusher := warmstore.NewFlusher(cam.ID, warmCfg, buf, index, logger)
	flusher.OnResult(func(wrote bool) {
		if wrote {
			metrics.WarmSegmentWritten(cam.ID)
		} else {
			metrics.WarmWriteFailure(cam.ID)
		}
	})
	g.Go(func() error {
		err := flusher.Run(ctx, triggers)
		if err != nil && err != context.Canceled {
			return fmt.Errorf("camera %s: warm flusher: %w", cam.ID, err)
		}
		return nil
	})
}

// bridgeTriggers forwards closed MotionEvents and Detections as padded
// Triggers until both upstream channels close, then closes triggers so
// the Flusher can finalize any pending window and return.
func bridgeTriggers(ctx context.Context, cfg warmstore.Config, cameraID string, events <-chan *analytics.MotionEvent, detections <-chan *analytics.Detection, triggers chan<- warmstore.Trigger) {
	defer close(triggers)

	for events != nil || detections != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			select {
			case triggers <- warmstore.TriggerFromMotionEvent(ev, cfg):
			case <-ctx.Done():
				return
			}
		case det, ok := <-detections:
			if !ok {
				detections = nil
				continue
			}
			select {
			case triggers <- warmstore.TriggerFromDetection(cameraID, det, cfg):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// pollStats mirrors Runner.Stats() and the Hot Buffer's resident window
// into telemetry at a fixed interval, since neither emits per-event
// hooks. Reconnect/corrupt-packet counts are cumulative in Stats, so only
// their delta since the last poll is added to the corresponding counter.
func pollStats(ctx context.Context, cameraID string, runner *camera.Runner, buf *hotbuffer.Buffer, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastReconnects, lastCorrupt int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := runner.Stats()
			metrics.AddReconnects(cameraID, stats.ReconnectCount-lastReconnects)
			metrics.AddCorruptPacketsDropped(cameraID, stats.CorruptPacketCount-lastCorrupt)
			lastReconnects = stats.ReconnectCount
			lastCorrupt = stats.CorruptPacketCount

			metrics.SetHotBufferGOPs(cameraID, buf.GopCount())
			metrics.SetHotBufferBytes(cameraID, buf.ResidentBytes())
		}
	}
}

func ffmpegArgs(url string) []string {
	return []string{
		"ffmpeg",
		"-hide_banner",
		"-loglevel", "warning",
		"-rtsp_transport", "tcp",
		"-i", url,
		"-c:v", "copy",
		"-an",
		"-f", "mpegts",
		"-mpegts_copyts", "1",
		"-",
	}
}

func analyticsConfigFrom(cfg *config.Config) analytics.Config {
	ac := analytics.DefaultConfig()
	ac.Enabled = cfg.Analytics.Enabled
	if cfg.Analytics.SampleFPS > 0 {
		ac.SampleFPS = int(cfg.Analytics.SampleFPS)
	}
	ac.ObjectDetection.Enabled = cfg.Analytics.ObjectDetection.Enabled
	if cfg.Analytics.ObjectDetection.ModelPath != "" {
		ac.ObjectDetection.ModelPath = cfg.Analytics.ObjectDetection.ModelPath
	}
	if cfg.Analytics.ObjectDetection.ConfidenceThreshold > 0 {
		ac.ObjectDetection.ConfidenceThreshold = float64(cfg.Analytics.ObjectDetection.ConfidenceThreshold)
	}
	if len(cfg.Analytics.ObjectDetection.Classes) > 0 {
		ac.ObjectDetection.Classes = cfg.Analytics.ObjectDetection.Classes
	}
	return ac
}

func warmConfigFrom(cfg *config.Config) warmstore.Config {
	wc := warmstore.DefaultConfig()
	wc.Enabled = cfg.Storage.Enabled
	if cfg.Storage.DataDir != "" {
		wc.DataDir = cfg.Storage.DataDir
	}
	if cfg.Storage.PrePaddingSecs > 0 {
		wc.PrePadding = time.Duration(cfg.Storage.PrePaddingSecs) * time.Second
	}
	if cfg.Storage.PostPaddingSecs > 0 {
		wc.PostPadding = time.Duration(cfg.Storage.PostPaddingSecs) * time.Second
	}
	return wc
}
