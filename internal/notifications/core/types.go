// Package core delivers the actions of triggered rules. Email actions are
// published to the notification queue for the mailer; SMS has no transport
// yet and is logged only.
package core

import (
	"context"

	"weatherrules/internal/types"
)

// MetricResult is the Result dimension of a delivery metric.
type MetricResult string

const (
	MetricSuccess        MetricResult = "success"
	MetricFailed         MetricResult = "failed"
	MetricNotImplemented MetricResult = "not_implemented"
)

// NotificationMetrics records delivery outcomes.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ActionType, result MetricResult)
}

// Publisher sends a notification message downstream.
type Publisher interface {
	Publish(ctx context.Context, msg types.NotificationMessage) error
}

type noopMetrics struct{}

func (noopMetrics) RecordDelivery(context.Context, types.ActionType, MetricResult) {}
