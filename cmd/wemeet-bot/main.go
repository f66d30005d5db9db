package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"wemeet/internal/auth"
	"wemeet/internal/config"
	"wemeet/internal/handlers"
	"wemeet/internal/metrics"
	"wemeet/internal/service"
	"wemeet/internal/telegram"
	"wemeet/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	maxAge, err := cfg.Events.GetMaxAge()
	if err != nil {
		slog.Error("invalid EVENT_MAX_AGE", "error", err)
		os.Exit(1)
	}
	dedupTTL, err := cfg.Dedup.GetTTL()
	if err != nil {
		slog.Error("invalid DEDUP_TTL", "error", err)
		os.Exit(1)
	}

	// Build service
	builder := service.NewServiceBuilder(cfg)
	svc, err := builder.Build()
	if err != nil {
		slog.Error("service build failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	bot, err := telegram.NewBot(cfg.Telegram.Token)
	if err != nil {
		slog.Error("telegram bot init failed", "error", err)
		os.Exit(1)
	}

	dedup, err := handlers.NewUpdateDeduper(handlers.DedupConfig{
		MaxCost:     cfg.Dedup.MaxCost,
		NumCounters: cfg.Dedup.NumCounters,
		BufferItems: cfg.Dedup.BufferItems,
		TTL:         dedupTTL,
	})
	if err != nil {
		slog.Error("dedup cache init failed", "error", err)
		os.Exit(1)
	}

	// Router
	r := mux.NewRouter()

	wh := handlers.NewWebhookHandler(svc, bot, dedup, maxAge)
	r.Handle(cfg.Telegram.WebhookPath,
		metrics.Middleware("webhook", http.HandlerFunc(wh.Handle), svc.Cache())).
		Methods(http.MethodPost)

	hh := handlers.NewHealthHandler(svc)
	r.HandleFunc("/healthz", hh.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hh.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	if cfg.Auth.JWTSecret != "" {
		jwtmw := auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		sh := handlers.NewSnapshotHandler(svc.Cache())
		r.Handle("/api/v1/snapshot",
			jwtmw.Authenticate(http.HandlerFunc(sh.Get))).
			Methods(http.MethodGet, http.MethodOptions)
	}

	var handler http.Handler = r
	handler = handlers.CORSMiddleware(handler)

	addr := fmt.Sprintf(":%d", cfg.Service.Port)
	slog.Info("starting wemeet-bot",
		"addr", addr,
		"groups", len(cfg.Groups.Authorized),
		"webhook", cfg.Telegram.WebhookPath,
	)
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("listen failed", "error", err)
		os.Exit(1)
	}
}
