package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherrules/internal/types"
)

var (
	testNow   = time.Date(2026, 10, 18, 6, 30, 0, 0, time.UTC)
	testAlert = types.Alert{FarmID: "jaipur_farm2", RuleID: "heat", RuleName: "Heat stress"}
)

func newTestNotifier(sender *mockSQSSender, metrics *recordingMetrics, logger *mockLogger) *Notifier {
	var pub Publisher
	if sender != nil {
		pub = NewNotificationPublisher(sender, testQueueURL, logger)
	}
	n := NewNotifier(NotifierConfig{Publisher: pub, Metrics: metrics, Clock: types.FixedClock(testNow), Logger: logger})
	n.newID = func() string { return "notif-fixed" }
	return n
}

func TestNotifier_Email(t *testing.T) {
	sender := &mockSQSSender{}
	metrics := &recordingMetrics{}
	n := newTestNotifier(sender, metrics, &mockLogger{})

	ctx := types.WithRequestID(context.Background(), "req-42")
	status, err := n.Notify(ctx, types.Action{Type: types.ActionEmail, Message: "Irrigate early"}, testAlert)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryStatusSent, status)

	require.Len(t, sender.calls, 1)
	var msg types.NotificationMessage
	require.NoError(t, json.Unmarshal([]byte(*sender.calls[0].MessageBody), &msg))
	assert.Equal(t, types.NotificationMessage{
		NotificationID: "notif-fixed",
		FarmID:         "jaipur_farm2",
		RuleID:         "heat",
		RuleName:       "Heat stress",
		Channel:        types.ActionEmail,
		Subject:        "Weather Alert: Rule Heat stress Triggered for jaipur_farm2",
		Message:        "Irrigate early",
		TraceID:        "req-42",
		CreatedAt:      testNow,
	}, msg)
	assert.Equal(t, []recordedDelivery{{types.ActionEmail, MetricSuccess}}, metrics.records)
}

func TestNotifier_EmailPublishFailure(t *testing.T) {
	metrics := &recordingMetrics{}
	n := newTestNotifier(&mockSQSSender{returnErr: errors.New("queue does not exist")}, metrics, &mockLogger{})

	status, err := n.Notify(context.Background(), types.Action{Type: types.ActionEmail, Message: "x"}, testAlert)
	assert.Equal(t, types.DeliveryStatusFailed, status)
	assert.Equal(t, types.ErrCodeNotifyFailed, types.ErrorCodeOf(err))
	assert.Equal(t, []recordedDelivery{{types.ActionEmail, MetricFailed}}, metrics.records)
}

func TestNotifier_EmailWithoutQueue(t *testing.T) {
	n := newTestNotifier(nil, &recordingMetrics{}, &mockLogger{})
	_, err := n.Notify(context.Background(), types.Action{Type: types.ActionEmail, Message: "x"}, testAlert)
	assert.Equal(t, types.ErrCodeNotifyFailed, types.ErrorCodeOf(err))
}

func TestNotifier_SMSNotImplemented(t *testing.T) {
	sender := &mockSQSSender{}
	metrics := &recordingMetrics{}
	logger := &mockLogger{}
	n := newTestNotifier(sender, metrics, logger)

	status, err := n.Notify(context.Background(), types.Action{Type: types.ActionSMS, Message: "Frost tonight"}, testAlert)
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryStatusNotImplemented, status)
	assert.Empty(t, sender.calls)
	assert.Len(t, logger.warns, 1)
	assert.Equal(t, []recordedDelivery{{types.ActionSMS, MetricNotImplemented}}, metrics.records)
}

func TestNotifier_DefaultLogger(t *testing.T) {
	n := NewNotifier(NotifierConfig{Clock: types.FixedClock(testNow)})
	require.NotNil(t, n.logger)

	var status types.DeliveryStatus
	require.NotPanics(t, func() {
		status, _ = n.Notify(context.Background(), types.Action{Type: types.ActionSMS, Message: "Frost tonight"}, testAlert)
	})
	assert.Equal(t, types.DeliveryStatusNotImplemented, status)
}

func TestNotifier_UnknownChannel(t *testing.T) {
	n := newTestNotifier(&mockSQSSender{}, &recordingMetrics{}, &mockLogger{})
	status, err := n.Notify(context.Background(), types.Action{Type: "pager", Message: "x"}, testAlert)
	assert.Equal(t, types.DeliveryStatusFailed, status)
	assert.Equal(t, types.ErrCodeNotifyFailed, types.ErrorCodeOf(err))
}
