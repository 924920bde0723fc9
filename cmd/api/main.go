// cmd/api/main.go
package main

import (
	"context"
	"librarydesk/internal/platform/config"
	"librarydesk/internal/platform/httpserver"
	"librarydesk/internal/platform/logging"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), "8080")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New("api", cfg.LogLevel)

	router := httpserver.NewRouter()
	mountProxy(router, "/api/v1/catalog", cfg.Services.CatalogURL)
	mountProxy(router, "/api/v1/circulation", cfg.Services.CirculationURL)

	logger.Info("API gateway listening", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, logger); err != nil {
		logger.Error("API gateway stopped", "err", err)
		os.Exit(1)
	}
}

func mountProxy(r chi.Router, prefix, target string) {
	u, err := url.Parse(target)
	if err != nil {
		log.Fatalf("Invalid upstream %q: %v", target, err)
	}
	r.Mount(prefix, http.StripPrefix(prefix, httputil.NewSingleHostReverseProxy(u)))
}
