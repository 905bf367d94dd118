// Package main is the entrypoint for the Rule Engine Lambda function.
//
// The function is invoked directly with {farm_id, stakeholder, data_type}
// or by the rule catalog's DynamoDB stream. Each distinct (farm,
// stakeholder, data type) triple gets one evaluation pass; triggered actions
// are delivered through the notifier and returned in the response body.
//
// This file handles dependency wiring (Cold Start) and delegates all
// evaluation logic to the internal/dispatcher package.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"weatherrules/internal/catalog"
	"weatherrules/internal/config"
	"weatherrules/internal/db"
	"weatherrules/internal/dispatcher"
	notifcore "weatherrules/internal/notifications/core"
	"weatherrules/internal/types"
)

// Defaults applied to a direct invocation that omits a field.
const (
	defaultFarmID      = "udaipur_farm1"
	defaultStakeholder = "field"
	defaultDataType    = types.DataTypeForecast
)

// Response is the Lambda result. Body holds the JSON triggered list on
// success and {"error": msg} otherwise.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// directInvocation is the payload of a manual or scheduled invocation.
type directInvocation struct {
	FarmID      string         `json:"farm_id"`
	Stakeholder string         `json:"stakeholder"`
	DataType    types.DataType `json:"data_type"`
}

// batchEvaluator is satisfied by *dispatcher.Dispatcher.
type batchEvaluator interface {
	EvaluateMany(ctx context.Context, reqs []types.EvaluationRequest) []dispatcher.FarmResult
}

type handler struct {
	evaluator batchEvaluator
	logger    *slog.Logger
}

func newHandler(evaluator batchEvaluator, logger *slog.Logger) *handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &handler{evaluator: evaluator, logger: logger}
}

// Handle evaluates every request carried by payload. Farms are isolated from
// each other: one failing pass turns the response into an error but the
// remaining farms are still evaluated and notified. The status is 400 when
// every failure is a rejected request and 500 otherwise.
func (h *handler) Handle(ctx context.Context, payload json.RawMessage) (Response, error) {
	reqs, err := parseRequests(payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid rule engine event", "error", err)
		return errorResponse(400, err), nil
	}
	h.logger.InfoContext(ctx, "rule engine invoked", "requests", len(reqs))

	triggered := []types.TriggeredRule{}
	var firstErr, serverErr error
	for _, res := range h.evaluator.EvaluateMany(ctx, reqs) {
		if res.Err != nil {
			h.logger.ErrorContext(ctx, "farm evaluation failed",
				"farm_id", res.Request.FarmID,
				"stakeholder", res.Request.Stakeholder,
				"data_type", res.Request.DataType,
				"error", res.Err,
			)
			if firstErr == nil {
				firstErr = res.Err
			}
			if serverErr == nil && !types.IsValidation(res.Err) {
				serverErr = res.Err
			}
			continue
		}
		triggered = append(triggered, res.Evaluation.Triggered...)
	}
	if serverErr != nil {
		return errorResponse(500, serverErr), nil
	}
	if firstErr != nil {
		return errorResponse(400, firstErr), nil
	}

	body, err := json.Marshal(triggered)
	if err != nil {
		return errorResponse(500, err), nil
	}
	return Response{StatusCode: 200, Body: string(body)}, nil
}

// parseRequests accepts either a DynamoDB stream event or a direct
// invocation. Stream records other than INSERT and MODIFY are ignored.
func parseRequests(payload json.RawMessage) ([]types.EvaluationRequest, error) {
	var probe struct {
		Records json.RawMessage `json:"Records"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &probe); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
	}

	if probe.Records == nil {
		var in directInvocation
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("decode invocation: %w", err)
			}
		}
		return []types.EvaluationRequest{{
			FarmID:      orDefault(in.FarmID, defaultFarmID),
			Stakeholder: orDefault(in.Stakeholder, defaultStakeholder),
			DataType:    types.DataType(orDefault(string(in.DataType), string(defaultDataType))),
		}}, nil
	}

	var evt events.DynamoDBEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	var reqs []types.EvaluationRequest
	for i, rec := range evt.Records {
		if rec.EventName != "INSERT" && rec.EventName != "MODIFY" {
			continue
		}
		img := rec.Change.NewImage
		req := types.EvaluationRequest{
			FarmID:      stringAttr(img, "farm_id"),
			Stakeholder: stringAttr(img, "stakeholder"),
			DataType:    types.DataType(stringAttr(img, "data_type")),
		}
		if req.FarmID == "" || req.Stakeholder == "" || req.DataType == "" {
			return nil, fmt.Errorf("stream record %d: NewImage lacks farm_id, stakeholder or data_type", i)
		}
		reqs = append(reqs, req)
	}
	return dispatcher.Dedupe(reqs), nil
}

func stringAttr(img map[string]events.DynamoDBAttributeValue, name string) string {
	av, ok := img[name]
	if !ok || av.DataType() != events.DataTypeString {
		return ""
	}
	return av.String()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func errorResponse(status int, err error) Response {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Response{StatusCode: status, Body: string(body)}
}

// --- Metric Publisher Implementation ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used here.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// liveEvaluationMetrics implements dispatcher.Metrics on CloudWatch.
// Publish failures are logged and never affect the pass.
type liveEvaluationMetrics struct {
	client    cloudwatchAPI
	namespace string
	logger    *slog.Logger
}

func (m *liveEvaluationMetrics) RecordEvaluation(ctx context.Context, dataType types.DataType, evaluated, triggered int) {
	dims := dataTypeDims(dataType)
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricNameRulesEvaluated),
			Value:      aws.Float64(float64(evaluated)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(types.MetricNameRulesTriggered),
			Value:      aws.Float64(float64(triggered)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	})
}

func (m *liveEvaluationMetrics) RecordEvaluationFailure(ctx context.Context, dataType types.DataType) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(types.MetricNameEvaluationFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dataTypeDims(dataType),
	}})
}

func (m *liveEvaluationMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	// The farm deadline may already have expired; metrics still go out.
	_, err := m.client.PutMetricData(context.WithoutCancel(ctx), &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish evaluation metrics", "error", err)
	}
}

func dataTypeDims(dataType types.DataType) []cwtypes.Dimension {
	return []cwtypes.Dimension{{
		Name:  aws.String(types.DimDataType),
		Value: aws.String(string(dataType)),
	}}
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("Rule Engine Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
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
		logger.Error("Failed to connect to the observation store", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cwClient := cloudwatch.NewFromConfig(awsCfg)

	var publisher notifcore.Publisher
	if cfg.AWS.NotificationURL != "" {
		publisher = notifcore.NewNotificationPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.NotificationURL, logger)
	} else {
		logger.Warn("SQS_NOTIFICATIONS is not set; email actions will fail")
	}
	notifierCfg := notifcore.NotifierConfig{Publisher: publisher, Logger: logger}

	var metrics dispatcher.Metrics
	if cfg.Observability.EnableMetrics {
		metrics = &liveEvaluationMetrics{client: cwClient, namespace: cfg.Observability.MetricNamespace, logger: logger}
		notifierCfg.Metrics = notifcore.NewCloudWatchNotificationMetrics(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	rules := catalog.New(dynamodb.NewFromConfig(awsCfg), catalog.Config{
		Table:  cfg.AWS.RulesTable,
		Index:  cfg.AWS.StakeholderIdx,
		Logger: logger,
	})

	d := dispatcher.New(
		db.NewObservationRepository(pool, cfg.Evaluation.QueryTimeout),
		rules,
		notifcore.NewNotifier(notifierCfg),
		dispatcher.Config{
			SnapshotLookback:     cfg.Evaluation.SnapshotLookback,
			FarmDeadline:         cfg.Evaluation.FarmDeadline,
			RuleConcurrency:      cfg.Evaluation.RuleConcurrency,
			FarmConcurrency:      cfg.Evaluation.FarmConcurrency,
			SequenceLookback:     cfg.Evaluation.SequenceLookback,
			RequireSequenceOrder: cfg.Evaluation.RequireSequenceOrder,
			Metrics:              metrics,
			Logger:               logger,
		},
	)
	h := newHandler(d, logger)

	logger.Info("Rule Engine Lambda initialized",
		"rules_table", cfg.AWS.RulesTable,
		"metric_namespace", cfg.Observability.MetricNamespace,
		"rule_concurrency", cfg.Evaluation.RuleConcurrency,
	)

	// Local mode: read one event from stdin instead of starting the Lambda
	// runtime.
	// Usage: echo '{"farm_id":"udaipur_farm1"}' | go run ./cmd/rule-engine
	if cfg.IsLocal() {
		logger.Info("APP_ENV=local: reading event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("Failed to read stdin", "error", err)
			os.Exit(1)
		}
		resp, _ := h.Handle(ctx, json.RawMessage(payload))
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		if resp.StatusCode != 200 {
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}
