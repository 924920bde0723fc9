// cmd/payment/main.go
package main

import (
	"context"
	"librarydesk/internal/payment"
	"librarydesk/internal/platform/config"
	"librarydesk/internal/platform/httpserver"
	"librarydesk/internal/platform/logging"
	"librarydesk/internal/platform/telemetry"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), "8084")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New("payment", cfg.LogLevel)

	shutdown, err := telemetry.Setup(ctx, "payment", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up telemetry: %v", err)
	}
	defer shutdown(context.Background())

	opts := []payment.Option{payment.WithAPIKey(cfg.Payment.APIKey)}
	if latency, err := time.ParseDuration(os.Getenv("PAYMENT_LATENCY")); err == nil {
		opts = append(opts, payment.WithLatency(latency))
	}
	sim := payment.NewSimulator(opts...)

	router := httpserver.NewRouter()
	router.Mount("/", payment.NewHandler(sim, sim.APIKey()).Routes())

	logger.Info("starting payment gateway simulator", "port", cfg.Port)
	if err := httpserver.Run(ctx, ":"+cfg.Port, router, logger); err != nil {
		logger.Error("payment gateway stopped", "err", err)
		os.Exit(1)
	}
}
