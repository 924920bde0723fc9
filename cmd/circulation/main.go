// cmd/circulation/main.go
package main

import (
	"context"
	"librarydesk/internal/circulation"
	"librarydesk/internal/clients"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/fees"
	"librarydesk/internal/platform/config"
	"librarydesk/internal/platform/database"
	"librarydesk/internal/platform/httpserver"
	"librarydesk/internal/platform/logging"
	"librarydesk/internal/platform/telemetry"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), "8082")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New("circulation", cfg.LogLevel)

	shutdown, err := telemetry.Setup(ctx, "circulation", cfg.OTLPEndpoint)
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
	catalogClient := clients.NewCatalogClient(cfg.Services.CatalogURL)
	paymentClient := clients.NewPaymentClient(logger, cfg.Services.PaymentURL, cfg.Payment.APIKey)

	circulationSvc := circulation.NewService(circulation.NewPostgresRepository(db), catalogClient, es, logger)
	feesSvc := fees.NewService(circulationSvc, catalogClient, paymentClient, es, logger)
	limiter := rate.NewLimiter(rate.Limit(cfg.Payment.RateLimit), cfg.Payment.RateBurst)

	router := httpserver.NewRouter()
	router.Mount("/fees", fees.NewHandler(feesSvc, limiter).Routes())
	router.Mount("/", circulation.NewHandler(circulationSvc).Routes())

	logger.Info("starting circulation service", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, logger); err != nil {
		logger.Error("circulation service stopped", "err", err)
		os.Exit(1)
	}
}
