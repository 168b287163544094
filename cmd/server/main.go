/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the retail telemetry engine. Handles configuration,
  dependency injection, the collection scheduler and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (when present) and the environment configuration
  2. Load the stores registry (STORES_FILE)
  3. Open the SQLite store and migrate the schema
  4. Wire the source adapters and start the collection scheduler
  5. Start the HTTP server with graceful shutdown

ENVIRONMENT:
  HTTP_PORT, DB_PATH, LOG_LEVEL, STORES_FILE
  SALES_API_URL, SALES_QUERY_ID, SALES_USERNAME, SALES_PASSWORD
  SENSOR_USERNAME, SENSOR_PASSWORD
  COLLECT_INTERVAL, COLLECT_LOOKBACK, COLLECT_RETRY_WAIT,
  COLLECT_RETRY_ATTEMPTS, SOURCE_HTTP_TIMEOUT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for an in-flight cycle)
  2. Stop accepting new connections, drain requests (30s timeout)
  3. Close the database
  4. Exit

SEE ALSO:
  - config/config.go: environment and registry loading
  - api/server.go: router configuration
  - collector/scheduler.go: the collection loop
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/grnl/retail-engine/api"
	"github.com/grnl/retail-engine/collector"
	"github.com/grnl/retail-engine/config"
	"github.com/grnl/retail-engine/kpi"
	"github.com/grnl/retail-engine/source"
	"github.com/grnl/retail-engine/store/sqlite"
)

func main() {
	// A .env file is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("configuration: %v", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := sqlite.New(cfg.DBPath, log)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer store.Close()

	// Source adapters share one HTTP client.
	httpClient := source.NewHTTPClient(cfg.Collector.HTTPTimeout)
	sensors := &source.SensorClient{
		Username: cfg.SensorAuth.Username,
		Password: cfg.SensorAuth.Password,
		Client:   httpClient,
		Log:      log,
	}
	sources := collector.Sources{
		Sales: &source.SalesClient{
			BaseURL: cfg.SalesAPI.BaseURL,
			QueryID: cfg.SalesAPI.QueryID,
			Tokens: &source.LoginTokenSource{
				BaseURL:  cfg.SalesAPI.BaseURL,
				Username: cfg.SalesAPI.Username,
				Password: cfg.SalesAPI.Password,
				Client:   httpClient,
			},
			Client: httpClient,
			Log:    log,
		},
		Counter:  &source.CounterClient{SensorClient: sensors},
		Heatmap:  &source.HeatmapClient{SensorClient: sensors},
		Regional: &source.RegionalClient{SensorClient: sensors},
	}

	scheduler := collector.New(cfg, store, sources, log)
	scheduler.Start()
	defer scheduler.Stop()

	aggregator := kpi.NewAggregator(store, cfg, log)
	comparator := kpi.NewComparator(aggregator)
	handler := api.NewHandler(cfg, store, aggregator, comparator, scheduler, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server listening on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Info("server stopped")
}
