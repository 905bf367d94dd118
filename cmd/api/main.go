// Package main is the entry point for the rules API server.
//
// The server exposes rule catalog maintenance and on-demand evaluation over
// HTTP on top of the same catalog, observation store and notifier the Rule
// Engine Lambda uses:
//
//	GET    /health
//	GET    /v1/rules?farm_id=&stakeholder=
//	GET    /v1/rules/{farmID}/{ruleID}
//	PUT    /v1/rules
//	DELETE /v1/rules/{farmID}/{ruleID}
//	POST   /v1/evaluations
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"

	"weatherrules/internal/api/handlers"
	"weatherrules/internal/catalog"
	"weatherrules/internal/config"
	"weatherrules/internal/core"
	"weatherrules/internal/db"
	"weatherrules/internal/dispatcher"
	notifcore "weatherrules/internal/notifications/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// serverDeps are the domain services behind the HTTP handlers.
type serverDeps struct {
	Rules     handlers.RuleStore
	Evaluator handlers.FarmEvaluator
	Probes    []core.HealthProbe
	Metrics   core.MetricsCollector
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("rules API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to observation store: %w", err)
	}
	defer pool.Close()

	ddb := dynamodb.NewFromConfig(awsCfg)
	rules := catalog.New(ddb, catalog.Config{
		Table:  cfg.AWS.RulesTable,
		Index:  cfg.AWS.StakeholderIdx,
		Logger: logger,
	})

	var publisher notifcore.Publisher
	if cfg.AWS.NotificationURL != "" {
		publisher = notifcore.NewNotificationPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotificationURL, logger)
	}
	notifierCfg := notifcore.NotifierConfig{Publisher: publisher, Logger: logger}

	var metrics core.MetricsCollector
	if cfg.Observability.EnableMetrics {
		cw := cloudwatch.NewFromConfig(awsCfg)
		notifierCfg.Metrics = notifcore.NewCloudWatchNotificationMetrics(cw, cfg.Observability.MetricNamespace, logger)
		rm := newRequestMetrics(cw, cfg.Observability.MetricNamespace, logger)
		go rm.Run(ctx)
		metrics = rm
	}

	evaluator := dispatcher.New(
		db.NewObservationRepository(pool, cfg.Evaluation.QueryTimeout),
		rules,
		notifcore.NewNotifier(notifierCfg),
		dispatcher.Config{
			SnapshotLookback:     cfg.Evaluation.SnapshotLookback,
			FarmDeadline:         cfg.Evaluation.FarmDeadline,
			RuleConcurrency:      cfg.Evaluation.RuleConcurrency,
			SequenceLookback:     cfg.Evaluation.SequenceLookback,
			RequireSequenceOrder: cfg.Evaluation.RequireSequenceOrder,
			Logger:               logger,
		},
	)

	srv, err := buildServer(cfg, logger, serverDeps{
		Rules:     rules,
		Evaluator: evaluator,
		Metrics:   metrics,
		Probes: []core.HealthProbe{
			core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
			core.ProbeFunc{ProbeName: "rule_catalog", Fn: func(ctx context.Context) error {
				_, err := ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.AWS.RulesTable)})
				return err
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if err := srv.ListenAndServe(ctx, ":"+cfg.Server.Port, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}

// buildServer assembles the chassis and mounts the domain handlers.
func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = deps.Metrics
	srv.HealthProbes = deps.Probes

	ruleHandler := handlers.NewRuleHandler(deps.Rules, logger)
	evaluationHandler := handlers.NewEvaluationHandler(deps.Evaluator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { r.Route("/rules", ruleHandler.RegisterRoutes) },
		func(r chi.Router) { r.Route("/evaluations", evaluationHandler.RegisterRoutes) },
	)

	srv.MountRoutes()
	return srv, nil
}
