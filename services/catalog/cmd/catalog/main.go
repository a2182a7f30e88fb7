package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"readshelf/internal/ratelimit"
	"readshelf/internal/util"
	"readshelf/pkg/lock"
	"readshelf/pkg/pdf"
	"readshelf/services/catalog/internal/app"
	"readshelf/services/catalog/internal/config"
	"readshelf/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var limiter server.Limiter
	if cfg.UploadRateLimit > 0 {
		window := time.Duration(cfg.UploadRateWindowSeconds) * time.Second
		rl, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "readshelf:ratelimit:upload", cfg.UploadRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
		limiter = rl
	}

	advanceLock, err := lock.NewRedisMutex(cfg.RedisAddr, cfg.RedisPassword, "readshelf:advance", time.Duration(cfg.AdvanceLockTTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("failed to init advance lock: %v", err)
	}

	renderer := pdf.NewPopplerRenderer()
	if cfg.RenderCommand != "" {
		renderer.Command = cfg.RenderCommand
	}
	if cfg.RenderDPI > 0 {
		renderer.DPI = cfg.RenderDPI
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		MinioEndpoint:       cfg.MinioEndpoint,
		MinioAccessKey:      cfg.MinioAccessKey,
		MinioSecretKey:      cfg.MinioSecretKey,
		MinioBucket:         cfg.MinioBucket,
		MinioUseSSL:         cfg.MinioUseSSL,
		OCREndpoint:         cfg.OCREndpoint,
		OCRTimeout:          time.Duration(cfg.OCRTimeoutSeconds) * time.Second,
		Renderer:            renderer,
		Lock:                advanceLock,
		PreviewPages:        cfg.PreviewPages,
		MinNativeRunes:      cfg.MinNativePageRunes,
		PlaceholderCoverURL: cfg.PlaceholderCoverURL,
		PresignExpiry:       time.Duration(cfg.PresignExpiryMinutes) * time.Minute,
		AllowedExtensions:   cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := ":" + cfg.Port
	// Upload and page-advance handlers render and OCR up to a full preview
	// window synchronously, each page bounded by the OCR client timeout, so
	// the write timeout must cover several OCR round trips.
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("catalog server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
