package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"weatherrules/internal/types"
)

// Notifier fans a triggered rule's actions out by channel.
type Notifier struct {
	publisher Publisher
	metrics   NotificationMetrics
	clock     types.Clock
	logger    types.Logger
	newID     func() string
}

// NotifierConfig wires a Notifier. A nil Publisher makes every email action
// fail with notify_failed.
type NotifierConfig struct {
	Publisher Publisher
	Metrics   NotificationMetrics
	Clock     types.Clock
	Logger    types.Logger
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Notifier{
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		newID:     uuid.NewString,
	}
}

// Notify delivers one action. The returned error is always a notify_failed
// AppError; callers log it and carry on.
func (n *Notifier) Notify(ctx context.Context, action types.Action, alert types.Alert) (types.DeliveryStatus, error) {
	switch action.Type {
	case types.ActionEmail:
		return n.sendEmail(ctx, action, alert)

	case types.ActionSMS:
		// No SMS transport exists yet.
		n.logger.Warn("sms action not implemented, message logged only",
			"farm_id", alert.FarmID,
			"rule_id", alert.RuleID,
			"message", action.Message,
		)
		n.metrics.RecordDelivery(ctx, action.Type, MetricNotImplemented)
		return types.DeliveryStatusNotImplemented, nil
	}

	n.metrics.RecordDelivery(ctx, action.Type, MetricFailed)
	return types.DeliveryStatusFailed, types.NewAppError(types.ErrCodeNotifyFailed,
		"unsupported action type "+string(action.Type), nil)
}

func (n *Notifier) sendEmail(ctx context.Context, action types.Action, alert types.Alert) (types.DeliveryStatus, error) {
	if n.publisher == nil {
		n.metrics.RecordDelivery(ctx, action.Type, MetricFailed)
		return types.DeliveryStatusFailed, types.NewAppError(types.ErrCodeNotifyFailed,
			"no notification queue configured", nil)
	}

	msg := types.NotificationMessage{
		NotificationID: n.newID(),
		FarmID:         alert.FarmID,
		RuleID:         alert.RuleID,
		RuleName:       alert.RuleName,
		Channel:        types.ActionEmail,
		Subject:        types.AlertSubject(alert.RuleName, alert.FarmID),
		Message:        action.Message,
		TraceID:        types.GetRequestID(ctx),
		CreatedAt:      n.clock.Now(),
	}
	if err := n.publisher.Publish(ctx, msg); err != nil {
		n.metrics.RecordDelivery(ctx, action.Type, MetricFailed)
		return types.DeliveryStatusFailed, types.NewAppError(types.ErrCodeNotifyFailed, "failed to publish email notification", err)
	}
	n.metrics.RecordDelivery(ctx, action.Type, MetricSuccess)
	return types.DeliveryStatusSent, nil
}
