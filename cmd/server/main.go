package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"therapy-guardrails/internal/config"
	"therapy-guardrails/internal/escalation"
	"therapy-guardrails/internal/guardrail"
	"therapy-guardrails/internal/handler"
	"therapy-guardrails/internal/metrics"
	"therapy-guardrails/internal/pipeline"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)

	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to load .env file")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.WithError(err).Warn("Unknown log level, keeping info")
	} else {
		log.SetLevel(level)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize guardrail engine")
	}

	collector := metrics.NewMetricsCollector()

	var dispatcher pipeline.Dispatcher
	if len(cfg.Escalation.Channels) > 0 {
		registry, err := escalation.NewChannelRegistry(cfg.Escalation.Channels)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize escalation channels")
		}
		d := escalation.NewDispatcher(registry, escalation.DispatcherConfig{
			MaxRetries:    cfg.Escalation.MaxRetries,
			RetryInterval: cfg.Escalation.RetryInterval,
		}, collector, log)
		log.WithField("enabled_channels", d.EnabledChannels()).Info("Escalation dispatcher initialized")
		dispatcher = d
	}

	guardrailPipeline := pipeline.NewPipeline(engine, dispatcher, collector, log, pipeline.Config{
		MaxTextLength:   cfg.Guardrails.MaxTextLength,
		DispatchTimeout: cfg.Escalation.DispatchTimeout,
	})

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(guardrailPipeline, collector, log, handler.RouterConfig{
		RequestTimeout: cfg.Server.Timeout,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Start server in goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting guardrails server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with 30 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}
	if err := guardrailPipeline.Close(ctx); err != nil {
		log.WithError(err).Error("Escalations still in flight at shutdown")
	}

	log.Info("Server stopped")
}

func buildEngine(cfg *config.Config) (*guardrail.Engine, error) {
	rules, err := guardrail.DefaultRuleSet(cfg.Guardrails.Thresholds)
	if err != nil {
		return nil, err
	}

	catalog := guardrail.DefaultCatalog()
	if cfg.Guardrails.CatalogFile != "" {
		catalog, err = guardrail.LoadCatalogFile(cfg.Guardrails.CatalogFile)
		if err != nil {
			return nil, err
		}
	}

	// guardrails.default_region takes precedence over the catalog file default
	if region := cfg.Guardrails.DefaultRegion; region != "" && !catalog.HasRegion(region) {
		return nil, fmt.Errorf("guardrails.default_region %s has no region pack, available: %s",
			region, strings.Join(catalog.Regions(), ", "))
	}

	opts := []guardrail.Option{
		guardrail.WithTracer(otel.Tracer("therapy-guardrails/guardrail")),
		guardrail.WithCatalog(catalog),
		guardrail.WithDefaultRegion(cfg.Guardrails.DefaultRegion),
	}

	return guardrail.NewEngine(rules, opts...), nil
}
