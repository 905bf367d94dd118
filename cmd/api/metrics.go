package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	metricNameRequestLatency = "APIRequestLatency"

	requestMetricsBuffer   = 512
	requestMetricsBatch    = 20
	requestMetricsInterval = 10 * time.Second
)

// cloudwatchAPI is the subset of the CloudWatch SDK client used here.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// requestMetrics implements core.MetricsCollector. RecordRequest never
// blocks the request path: data points are queued and published in batches
// by Run, and dropped when the queue is full.
type requestMetrics struct {
	client    cloudwatchAPI
	namespace string
	logger    *slog.Logger
	queue     chan cwtypes.MetricDatum
	interval  time.Duration
}

func newRequestMetrics(client cloudwatchAPI, namespace string, logger *slog.Logger) *requestMetrics {
	return &requestMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		queue:     make(chan cwtypes.MetricDatum, requestMetricsBuffer),
		interval:  requestMetricsInterval,
	}
}

func (m *requestMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	datum := cwtypes.MetricDatum{
		MetricName: aws.String(metricNameRequestLatency),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Method"), Value: aws.String(method)},
			{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
			{Name: aws.String("Status"), Value: aws.String(status)},
		},
	}
	select {
	case m.queue <- datum:
	default:
	}
}

// Run publishes queued data points until ctx is done, then flushes what is
// left.
func (m *requestMetrics) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, requestMetricsBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch,
		})
		if err != nil {
			m.logger.Warn("failed to publish request metrics", "error", err, "dropped", len(batch))
		}
		batch = make([]cwtypes.MetricDatum, 0, requestMetricsBatch)
	}

	for {
		select {
		case d := <-m.queue:
			batch = append(batch, d)
			if len(batch) == requestMetricsBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case d := <-m.queue:
					batch = append(batch, d)
					if len(batch) == requestMetricsBatch {
						flush(drain)
					}
				default:
					flush(drain)
					return
				}
			}
		}
	}
}
