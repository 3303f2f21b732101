package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"premium-player/internal/analytics"
	"premium-player/internal/media"
	"premium-player/internal/media/headless"
	"premium-player/internal/platform/config"
	"premium-player/internal/platform/logger"
	"premium-player/internal/platform/metrics"
	"premium-player/internal/player"
	"premium-player/internal/portalapi"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	apiBaseURL := config.GetEnv("API_BASE_URL", "http://localhost:3000/api")
	apiTimeout := config.GetEnvDuration("API_TIMEOUT", 10*time.Second)
	tokenFile := config.GetEnv("TOKEN_FILE", "")

	log := logger.New(logLevel, logFormat)
	cfg := playerConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid player config", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	clk := clockwork.NewRealClock()

	var tokens portalapi.TokenStore = portalapi.NewMemoryTokenStore()
	if tokenFile != "" {
		tokens = portalapi.NewFileTokenStore(tokenFile)
	}
	if raw := config.GetEnv("API_TOKEN", ""); raw != "" {
		if _, ok := tokens.Get(); !ok {
			if err := tokens.Set(portalapi.ParseToken(raw)); err != nil {
				log.Warn("could not store api token", "error", err)
			}
		}
	}

	backendHTTP := &http.Client{
		Timeout:   apiTimeout,
		Transport: &metrics.Transport{Metrics: met, Base: &logger.Transport{Log: log}},
	}
	client := portalapi.New(apiBaseURL, backendHTTP, tokens)

	tracker := analytics.New(client, analytics.Options{
		Clock:         clk,
		Logger:        log,
		Recorder:      met,
		FlushInterval: config.GetEnvDuration("ANALYTICS_FLUSH_INTERVAL", analytics.DefaultFlushInterval),
	})
	tracker.Start()

	mediaHTTP := &http.Client{Timeout: apiTimeout, Transport: &logger.Transport{Log: log}}
	portal, err := player.NewPortal(player.Deps{
		Config: cfg,
		Clock:  clk,
		Logger: log,
		Page: player.NewHeadlessPage(func(locked bool) {
			log.Debug("page scroll lock", "locked", locked)
		}),
		NewEngine: func(videoID string) (media.Engine, error) {
			return headless.New(headless.Options{HTTPClient: mediaHTTP, Clock: clk, Logger: log}), nil
		},
		Backend:   client,
		Analytics: tracker,
		Tokens:    tokens,
		Refresh:   met,
	})
	if err != nil {
		log.Error("portal setup failed", "error", err)
		os.Exit(1)
	}

	if _, err := portal.RefreshProfile(context.Background()); err != nil {
		log.Warn("initial profile refresh failed", "error", err)
	}

	h := player.NewHandler(portal, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetSessionsActive(portal.Registry().Len()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

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
		"api_base_url", apiBaseURL,
		"token_refresh_interval", cfg.TokenRefreshInterval.String(),
		"touch_primary", cfg.TouchPrimary,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, closing players")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	portal.Shutdown(ctx)
	tracker.Stop(ctx)

	log.Info("server stopped")
}

func playerConfig() player.Config {
	cfg := player.DefaultConfig()
	cfg.TokenRefreshInterval = config.GetEnvDuration("TOKEN_REFRESH_INTERVAL", cfg.TokenRefreshInterval)
	cfg.TokenURLLifetime = config.GetEnvDuration("TOKEN_URL_LIFETIME", cfg.TokenURLLifetime)
	cfg.ControlsHideDelayTouch = config.GetEnvDuration("CONTROLS_HIDE_DELAY_TOUCH", cfg.ControlsHideDelayTouch)
	cfg.ControlsHideDelayPointer = config.GetEnvDuration("CONTROLS_HIDE_DELAY_POINTER", cfg.ControlsHideDelayPointer)
	cfg.ControlsIdleThreshold = config.GetEnvDuration("CONTROLS_IDLE_THRESHOLD", cfg.ControlsIdleThreshold)
	cfg.DoubleTapWindow = config.GetEnvDuration("DOUBLE_TAP_WINDOW", cfg.DoubleTapWindow)
	cfg.DoubleTapDistance = config.GetEnvFloat("DOUBLE_TAP_DISTANCE", cfg.DoubleTapDistance)
	cfg.TapSlopPx = config.GetEnvFloat("TAP_SLOP_PX", cfg.TapSlopPx)
	cfg.DragThresholdPx = config.GetEnvFloat("DRAG_THRESHOLD_PX", cfg.DragThresholdPx)
	cfg.DragSeekRange = config.GetEnvDuration("DRAG_SEEK_RANGE", secs(cfg.DragSeekRange)).Seconds()
	cfg.SkipAmount = config.GetEnvDuration("SKIP_AMOUNT", secs(cfg.SkipAmount)).Seconds()
	cfg.CenterZone = config.GetEnvFloat("CENTER_ZONE", cfg.CenterZone)
	cfg.QualityPollInterval = config.GetEnvDuration("QUALITY_POLL_INTERVAL", cfg.QualityPollInterval)
	cfg.QualityPollTimeout = config.GetEnvDuration("QUALITY_POLL_TIMEOUT", cfg.QualityPollTimeout)
	cfg.TouchPrimary = config.GetEnvBool("TOUCH_PRIMARY", cfg.TouchPrimary)
	return cfg
}

func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
