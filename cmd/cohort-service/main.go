package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/reporting/pkg/analytics/cohort"
	"github.com/synaptica-ai/reporting/pkg/common/config"
	"github.com/synaptica-ai/reporting/pkg/common/database"
	"github.com/synaptica-ai/reporting/pkg/common/kafka"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/gateway/auth"
	"github.com/synaptica-ai/reporting/pkg/gateway/middleware"
	"github.com/synaptica-ai/reporting/pkg/gateway/routes"
	"github.com/synaptica-ai/reporting/pkg/observability/metrics"
	"github.com/synaptica-ai/reporting/pkg/storage"
	"github.com/synaptica-ai/reporting/pkg/terminology"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := terminology.Load(cfg.CatalogPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load terminology catalog")
	}

	backend, err := storage.Open(ctx, cfg, catalog)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to open population store")
	}
	defer backend.Close()

	var opts []cohort.Option
	if cfg.CohortCacheTTL > 0 {
		client := database.OpenRedis(ctx, cfg)
		defer client.Close()
		opts = append(opts, cohort.WithCache(cohort.NewRedisCache(client, ""), cfg.CohortCacheTTL))
	}
	service := cohort.NewService(backend.Store, opts...)

	definitions := cohort.NewDefinitionRepository(backend.DB)
	jobs := cohort.NewMaterializationRepository(backend.DB)
	if err := definitions.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate cohort definitions")
	}
	if err := jobs.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate cohort materializations")
	}

	producer := kafka.NewProducer(cfg, cfg.MaterializedTopic)
	defer producer.Close()
	materializer := cohort.NewMaterializer(jobs, definitions, service, cfg.MaterializeWorkers,
		cohort.WithPublisher(producer),
		cohort.WithJobTimeout(cfg.EvaluationTimeout),
	)

	if cfg.KafkaConsumeEnabled {
		consumer := kafka.NewConsumer(cfg, cfg.EvaluateTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, materializer.HandleEvent); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Evaluation request consumer stopped")
			}
		}()
	}

	var validator middleware.TokenValidator
	if cfg.OIDCIssuer != "" {
		oidc, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
		if err != nil {
			logger.Log.WithError(err).Fatal("Failed to configure OIDC")
		}
		validator = oidc
	} else {
		logger.Log.Warn("OIDC_ISSUER not set, API authentication disabled")
	}

	router := newRouter(cfg, service, definitions, materializer, validator)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  cfg.ServerPort,
			"store": backend.Driver,
		}).Info("Cohort Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down Cohort Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	materializer.Wait()

	logger.Log.Info("Cohort Service stopped")
}

func newRouter(cfg *config.Config, service *cohort.Service, definitions *cohort.DefinitionRepository, materializer *cohort.Materializer, validator middleware.TokenValidator) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if cfg.RateLimitRPS > 0 {
		api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	api.Use(middleware.Authenticate(validator), middleware.BodyLimit(cfg.MaxRequestBody))

	handlerOpts := []routes.HandlerOption{routes.WithEvaluationTimeout(cfg.EvaluationTimeout)}
	if definitions != nil {
		handlerOpts = append(handlerOpts, routes.WithDefinitions(definitions))
	}
	if materializer != nil {
		handlerOpts = append(handlerOpts, routes.WithMaterializer(materializer))
	}
	routes.NewCohortHandler(service, handlerOpts...).Register(api)
	routes.NewDatasetHandler().Register(api)
	return router
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
