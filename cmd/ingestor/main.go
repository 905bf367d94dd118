// Package main is the entrypoint for the Ingestor Lambda function.
//
// The Ingestor runs on an EventBridge schedule. It polls every configured
// weather provider for every farm location and upserts the normalized
// current and forecast readings into the observation store. Failures are
// isolated per (location, provider) pair and reported in the response.
//
// This file handles dependency wiring (Cold Start) and delegates all
// business logic to the internal/scheduler package (Ingestor.Run).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"weatherrules/internal/config"
	"weatherrules/internal/db"
	"weatherrules/internal/external"
	"weatherrules/internal/scheduler"
	"weatherrules/internal/types"
)

// Response is the Lambda result.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type responseBody struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
	Pairs   int      `json:"pairs,omitempty"`
	Rows    int      `json:"rows,omitempty"`
}

// ingestRunner is satisfied by *scheduler.Ingestor.
type ingestRunner interface {
	Run(ctx context.Context) (*scheduler.IngestReport, error)
}

// newHandler wraps Ingestor.Run. A partial failure is a 500 carrying every
// pair error; the successful pairs are already stored at that point.
func newHandler(runner ingestRunner, logger *slog.Logger) func(ctx context.Context) (Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Response, error) {
		logger.InfoContext(ctx, "Ingestor handler invoked")

		report, err := runner.Run(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "ingestion run failed", "error", err)
			return respond(500, responseBody{Message: "Some data ingestion failed", Errors: []string{err.Error()}}), nil
		}
		if report.Skipped {
			return respond(200, responseBody{Message: "Ingestion skipped: another run is in progress"}), nil
		}
		if report.Failed() {
			return respond(500, responseBody{
				Message: "Some data ingestion failed",
				Errors:  report.Errors,
				Pairs:   report.Pairs,
				Rows:    report.Rows,
			}), nil
		}
		return respond(200, responseBody{
			Message: "Weather data ingested successfully",
			Pairs:   report.Pairs,
			Rows:    report.Rows,
		}), nil
	}
}

func respond(status int, body responseBody) Response {
	b, _ := json.Marshal(body)
	return Response{StatusCode: status, Body: string(b)}
}

// --- Metric Publisher Implementation ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used here.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// liveIngestMetrics implements scheduler.IngestMetrics on CloudWatch.
type liveIngestMetrics struct {
	client    cloudwatchAPI
	namespace string
	logger    *slog.Logger
}

// RecordIngest emits the succeeded and failed pair counts of one run.
func (m *liveIngestMetrics) RecordIngest(ctx context.Context, succeeded, failed int) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricNameIngestSucceeded),
				Value:      aws.Float64(float64(succeeded)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String(types.MetricNameIngestFailed),
				Value:      aws.Float64(float64(failed)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish ingestion metrics", "error", err)
	}
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("Ingestor Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()

	locations, err := cfg.Ingestion.Locations()
	if err != nil {
		logger.Error("Invalid ingestion locations", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		logger.Error("Failed to connect to the observation store", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var metrics scheduler.IngestMetrics
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("Failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		if cfg.AWS.EndpointURL != "" {
			awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
		metrics = &liveIngestMetrics{
			client:    cloudwatch.NewFromConfig(awsCfg),
			namespace: cfg.Observability.MetricNamespace,
			logger:    logger,
		}
	}

	// Provider clients share one gzip-negotiating HTTP client.
	providers := external.NewProviderRegistry(cfg.Ingestion, logger,
		external.WithHTTPClient(external.NewHTTPClient(cfg.Ingestion.HTTPTimeout)))
	fetchers := make([]scheduler.Fetcher, len(providers))
	for i, p := range providers {
		fetchers[i] = p
	}

	ingestor := scheduler.NewIngestor(scheduler.IngestorConfig{
		Providers:   fetchers,
		Locations:   locations,
		Writer:      db.NewObservationWriter(pool),
		Jobs:        db.NewJobRepository(pool, types.RealClock{}),
		Metrics:     metrics,
		Concurrency: cfg.Ingestion.Concurrency,
		Logger:      logger,
	})

	logger.Info("Ingestor Lambda initialized",
		"locations", len(locations),
		"providers", len(fetchers),
		"concurrency", cfg.Ingestion.Concurrency,
	)

	handler := newHandler(ingestor, logger)

	// Local mode: run once and print the response instead of starting the
	// Lambda runtime. Stdin is drained so the invocation mirrors the other
	// functions' local mode.
	// Usage: echo '{}' | go run ./cmd/ingestor
	if cfg.IsLocal() {
		logger.Info("APP_ENV=local: running one ingestion pass")
		_, _ = io.Copy(io.Discard, os.Stdin)
		resp, _ := handler(ctx)
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		if resp.StatusCode != 200 {
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler)
}
