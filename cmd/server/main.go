package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamcap/internal/audio"
	"streamcap/internal/media"
	"streamcap/internal/platform/config"
	"streamcap/internal/platform/logger"
	"streamcap/internal/platform/metrics"
	"streamcap/internal/recorder"
	"streamcap/internal/storage"
	"streamcap/internal/video"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")

	log := logger.New(logLevel, logFormat)

	audioCfg := media.DefaultAudioConfig()
	audioCfg.SampleRate = config.GetEnvInt("AUDIO_SAMPLE_RATE", audioCfg.SampleRate)
	audioCfg.Channels = config.GetEnvInt("AUDIO_CHANNELS", audioCfg.Channels)
	audioCfg.Bitrate = config.GetEnvInt("AUDIO_BITRATE", audioCfg.Bitrate)
	audioCfg.SegmentDuration = config.GetEnvFloat("SEGMENT_DURATION_SECONDS", audioCfg.SegmentDuration)

	videoCfg := media.DefaultVideoConfig()
	videoCfg.Width = config.GetEnvInt("VIDEO_WIDTH", videoCfg.Width)
	videoCfg.Height = config.GetEnvInt("VIDEO_HEIGHT", videoCfg.Height)
	videoCfg.FrameRate = config.GetEnvInt("VIDEO_FRAME_RATE", videoCfg.FrameRate)
	videoCfg.Bitrate = config.GetEnvInt("VIDEO_BITRATE", videoCfg.Bitrate)
	videoCfg.PixelFormat = media.PixelFormat(config.GetEnv("VIDEO_PIXEL_FORMAT", string(videoCfg.PixelFormat)))
	videoCfg.SegmentDuration = audioCfg.SegmentDuration

	storageCfg := storage.Config{
		Endpoint:  config.GetEnv("S3_ENDPOINT", "s3.amazonaws.com"),
		Bucket:    config.GetEnv("S3_BUCKET", "recordings"),
		Region:    config.GetEnv("S3_REGION", "us-east-1"),
		AccessKey: config.GetEnv("S3_ACCESS_KEY", ""),
		SecretKey: config.GetEnv("S3_SECRET_KEY", ""),
		UseSSL:    config.GetEnvBool("S3_USE_SSL", true),
		Timeout:   config.GetEnvDuration("UPLOAD_TIMEOUT_SECONDS", storage.DefaultTimeout),
	}

	opts := recorder.Options{
		Audio:           audioCfg,
		Video:           videoCfg,
		WindowSize:      config.GetEnvInt("SLIDING_WINDOW_SIZE", 5),
		RefreshInterval: config.GetEnvDuration("PLAYLIST_REFRESH_SECONDS", recorder.DefaultRefreshInterval),
		Streaming:       config.GetEnvBool("STREAMING_ENABLED", true),
		BaseURL:         storageCfg.PublicBaseURL(),
	}

	var delivery recorder.Delivery
	if opts.Streaming {
		uploader, err := storage.New(storageCfg, log)
		if err != nil {
			log.Error("storage init failed", "error", err)
			os.Exit(1)
		}
		delivery = uploader
	}

	engines := recorder.EngineFactories{
		Audio: func(cfg media.AudioConfig) (audio.Engine, error) {
			return audio.NewFFmpegEngine(ffmpegPath, audio.CodecRate(cfg), cfg.Channels, cfg.Bitrate, log)
		},
		Video: func(cfg media.VideoConfig) (video.Engine, error) {
			return video.NewFFmpegEngine(ffmpegPath, cfg.Width, cfg.Height, cfg.FrameRate, cfg.Bitrate)
		},
	}

	met := metrics.New()
	mgr := recorder.NewManager(opts, engines, delivery, met, log)
	h := recorder.NewHandler(mgr, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveSessions(mgr.ActiveCount()) }).ServeHTTP(w, req)
	})
	r.Mount("/sessions", h.Routes())

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"sliding_window_size", opts.WindowSize,
		"streaming", opts.Streaming,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, stopping sessions")
	mgr.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
