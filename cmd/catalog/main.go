// cmd/catalog/main.go
package main

import (
	"context"
	"librarydesk/internal/catalog"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/platform/config"
	"librarydesk/internal/platform/database"
	"librarydesk/internal/platform/httpserver"
	"librarydesk/internal/platform/logging"
	"librarydesk/internal/platform/telemetry"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), "8081")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New("catalog", cfg.LogLevel)

	shutdown, err := telemetry.Setup(ctx, "catalog", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdown(context.Background())

	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	es := eventstore.NewEventStore(db.DB)
	svc := catalog.NewService(catalog.NewPostgresRepository(db), es, logger)
	handler := catalog.NewHandler(svc)

	router := httpserver.NewRouter()
	router.Mount("/", handler.Routes())

	logger.Info("starting catalog service", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, logger); err != nil {
		logger.Error("catalog service stopped", "err", err)
		os.Exit(1)
	}
}
