package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherrules/internal/types"
)

var now = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	snapshot  *types.Observation
	latestErr error
	block     bool
	since     time.Time
	countErr  error
	counts    int
}

func (g *fakeGateway) Latest(ctx context.Context, _ string, _ types.Table, since time.Time) (*types.Observation, error) {
	if g.block {
		<-ctx.Done()
		return nil, types.NewStoreError("failed to load latest", ctx.Err())
	}
	g.since = since
	return g.snapshot, g.latestErr
}

func (g *fakeGateway) CountMatching(context.Context, string, types.Table, types.Metric, types.LeafOperator, float64, time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts++
	return 1, g.countErr
}

func (g *fakeGateway) TwoMostRecent(context.Context, string, types.Table, types.Metric, time.Time) ([]types.Sample, error) {
	return nil, nil
}

func (g *fakeGateway) AverageOver(context.Context, string, types.Table, types.Metric, time.Time, time.Time) (*float64, error) {
	return nil, nil
}

func (g *fakeGateway) EarliestMatchAfter(context.Context, string, types.Table, types.Metric, types.LeafOperator, float64, time.Time) (*time.Time, error) {
	return nil, nil
}

type fakeCatalog struct {
	rules map[string][]types.RuleDefinition
	err   error
}

func (c *fakeCatalog) ListRules(_ context.Context, farmID, stakeholder string) ([]types.RuleDefinition, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.rules[farmID+"/"+stakeholder], nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []types.Alert
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, _ types.Action, alert types.Alert) (types.DeliveryStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	if n.err != nil {
		return types.DeliveryStatusFailed, n.err
	}
	return types.DeliveryStatusSent, nil
}

type fakeMetrics struct {
	mu                   sync.Mutex
	evaluated, triggered int
	failures             int
}

func (m *fakeMetrics) RecordEvaluation(_ context.Context, _ types.DataType, evaluated, triggered int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluated += evaluated
	m.triggered += triggered
}

func (m *fakeMetrics) RecordEvaluationFailure(context.Context, types.DataType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

const (
	hot      = `{"metric":"temperature_c","operator":">","value":30}`
	cold     = `{"metric":"temperature_c","operator":"<","value":0}`
	windowed = `{"metric":"rainfall_mm","operator":">","value":0,"temporal":{"duration":"3 hours"}}`
)

func def(id string, priority int, cond string, stop bool) types.RuleDefinition {
	return types.RuleDefinition{
		FarmID:      "udaipur_farm1",
		RuleID:      id,
		Name:        "rule " + id,
		Stakeholder: "field",
		DataType:    types.DataTypeForecast,
		Priority:    priority,
		Conditions:  json.RawMessage(cond),
		Actions:     []types.Action{{Type: types.ActionEmail, Message: "alert " + id}},
		StopOnMatch: &stop,
	}
}

func hotSnapshot() *types.Observation {
	obs := &types.Observation{FarmID: "udaipur_farm1", Time: now}
	obs.Set(types.MetricTemperature, 36)
	return obs
}

var fieldForecast = types.EvaluationRequest{FarmID: "udaipur_farm1", Stakeholder: "field", DataType: types.DataTypeForecast}

type harness struct {
	gateway  *fakeGateway
	catalog  *fakeCatalog
	notifier *fakeNotifier
	metrics  *fakeMetrics
}

func newHarness(rules ...types.RuleDefinition) *harness {
	return &harness{
		gateway:  &fakeGateway{snapshot: hotSnapshot()},
		catalog:  &fakeCatalog{rules: map[string][]types.RuleDefinition{"udaipur_farm1/field": rules}},
		notifier: &fakeNotifier{},
		metrics:  &fakeMetrics{},
	}
}

func (h *harness) dispatcher(cfg Config) *Dispatcher {
	cfg.Clock = types.FixedClock(now)
	cfg.Metrics = h.metrics
	return New(h.gateway, h.catalog, h.notifier, cfg)
}

func triggeredIDs(res *types.FarmEvaluation) []string {
	ids := make([]string, 0, len(res.Triggered))
	for _, tr := range res.Triggered {
		ids = append(ids, tr.RuleID)
	}
	return ids
}

func TestEvaluateFarm_StablePriorityOrder(t *testing.T) {
	h := newHarness(
		def("a", 2, hot, false),
		def("b", 1, hot, false),
		def("c", 2, hot, false),
		def("d", 1, cold, false),
	)
	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a", "c"}, triggeredIDs(res))
	assert.Len(t, h.notifier.alerts, 3)
	assert.Equal(t, types.Alert{FarmID: "udaipur_farm1", RuleID: "b", RuleName: "rule b"}, h.notifier.alerts[0])
	assert.Equal(t, 4, h.metrics.evaluated)
	assert.Equal(t, 3, h.metrics.triggered)
}

func TestEvaluateFarm_StopOnMatch(t *testing.T) {
	h := newHarness(
		def("first", 1, cold, true),
		def("second", 2, hot, true),
		def("third", 3, windowed, false),
	)
	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	assert.Equal(t, []string{"second"}, triggeredIDs(res))
	assert.Zero(t, h.gateway.counts, "rules after a stop-on-match trigger are not evaluated")
	assert.Len(t, h.notifier.alerts, 1)
}

func TestEvaluateFarm_StopOnMatchDefaultsTrue(t *testing.T) {
	a := def("a", 1, hot, true)
	a.StopOnMatch = nil
	h := newHarness(a, def("b", 2, hot, false))

	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, triggeredIDs(res))
}

func TestEvaluateFarm_FiltersDataTypeAndSkipsInvalid(t *testing.T) {
	current := def("current", 1, hot, false)
	current.DataType = types.DataTypeCurrent
	badMetric := def("bad-metric", 1, `{"metric":"solar_radiation_wm2","operator":">","value":1}`, false)
	badPriority := def("bad-priority", 11, hot, false)
	h := newHarness(current, badMetric, badPriority, def("ok", 5, hot, false))

	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, triggeredIDs(res))
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "bad-metric", res.Skipped[0].RuleID)
	assert.Contains(t, res.Skipped[0].Reason, "solar_radiation_wm2")
	assert.Equal(t, "bad-priority", res.Skipped[1].RuleID)
}

func TestEvaluateFarm_NoRules(t *testing.T) {
	h := newHarness()
	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	assert.NotNil(t, res.Triggered)
	assert.Empty(t, res.Triggered)
	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"triggered":[]`)
	assert.NotContains(t, string(body), "skipped")
}

func TestEvaluateFarm_MissingSnapshot(t *testing.T) {
	h := newHarness(def("hot", 1, hot, true))
	h.gateway.snapshot = nil

	res, err := h.dispatcher(Config{SnapshotLookback: 6 * time.Hour}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)
	assert.Empty(t, res.Triggered)
	assert.Equal(t, now.Add(-6*time.Hour), h.gateway.since)
}

func TestEvaluateFarm_StoreErrorAbortsPass(t *testing.T) {
	h := newHarness(def("windowed", 1, windowed, false), def("hot", 2, hot, false))
	h.gateway.countErr = types.NewStoreError("failed to count", errors.New("connection reset"))

	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	assert.Nil(t, res)
	assert.True(t, types.IsStoreError(err))
	assert.Empty(t, h.notifier.alerts)
	assert.Equal(t, 1, h.metrics.failures)
}

func TestEvaluateFarm_SnapshotAndCatalogErrors(t *testing.T) {
	h := newHarness()
	h.gateway.latestErr = types.NewStoreError("failed", errors.New("down"))
	_, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	assert.True(t, types.IsStoreError(err))

	h = newHarness()
	h.catalog.err = types.NewAppError(types.ErrCodeInternalCatalog, "query failed", errors.New("throttled"))
	_, err = h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	assert.Equal(t, types.ErrCodeInternalCatalog, types.ErrorCodeOf(err))
}

func TestEvaluateFarm_NotificationFailureSwallowed(t *testing.T) {
	h := newHarness(def("a", 1, hot, false), def("b", 2, hot, false))
	h.notifier.err = types.NewAppError(types.ErrCodeNotifyFailed, "queue unavailable", nil)

	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, triggeredIDs(res))
	assert.Len(t, h.notifier.alerts, 2)
}

func TestEvaluateFarm_ParallelMatchesSequential(t *testing.T) {
	rules := []types.RuleDefinition{
		def("p3", 3, hot, false),
		def("p1", 1, cold, false),
		def("p2a", 2, windowed, false),
		def("p2b", 2, hot, true),
		def("p4", 4, hot, false),
	}
	seq, err := newHarness(rules...).dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	par, err := newHarness(rules...).dispatcher(Config{RuleConcurrency: 4}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	assert.Equal(t, []string{"p2a", "p2b"}, triggeredIDs(seq))
	assert.Equal(t, triggeredIDs(seq), triggeredIDs(par))
}

func TestEvaluateFarm_ParallelIgnoresErrorsAfterStop(t *testing.T) {
	rules := []types.RuleDefinition{
		def("p1", 1, hot, true),
		def("p2", 2, windowed, false),
	}
	for _, concurrency := range []int{1, 4} {
		h := newHarness(rules...)
		h.gateway.countErr = types.NewStoreError("count failed", errors.New("boom"))

		res, err := h.dispatcher(Config{RuleConcurrency: concurrency}).EvaluateFarm(context.Background(), fieldForecast)
		require.NoError(t, err, "concurrency %d", concurrency)
		assert.Equal(t, []string{"p1"}, triggeredIDs(res), "concurrency %d", concurrency)
	}
}

func TestEvaluateFarm_ParallelStoreErrorBeforeStop(t *testing.T) {
	rules := []types.RuleDefinition{
		def("p1", 1, windowed, false),
		def("p2", 2, hot, true),
	}
	for _, concurrency := range []int{1, 4} {
		h := newHarness(rules...)
		h.gateway.countErr = types.NewStoreError("count failed", errors.New("boom"))

		_, err := h.dispatcher(Config{RuleConcurrency: concurrency}).EvaluateFarm(context.Background(), fieldForecast)
		assert.True(t, types.IsStoreError(err), "concurrency %d", concurrency)
		assert.Empty(t, h.notifier.alerts, "concurrency %d", concurrency)
	}
}

func TestEvaluateFarm_Deadline(t *testing.T) {
	h := newHarness(def("a", 1, hot, true))
	h.gateway.block = true

	_, err := h.dispatcher(Config{FarmDeadline: 20 * time.Millisecond}).EvaluateFarm(context.Background(), fieldForecast)
	assert.True(t, types.IsDeadlineExceeded(err))
}

func TestEvaluateFarm_InvalidRequest(t *testing.T) {
	h := newHarness()
	_, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(),
		types.EvaluationRequest{FarmID: "f1", Stakeholder: "field", DataType: "hourly"})
	assert.Equal(t, types.ErrCodeValidationInvalidRequest, types.ErrorCodeOf(err))
}

func TestEvaluateFarm_TriggeredRoundTrip(t *testing.T) {
	h := newHarness(def("a", 1, hot, false), def("b", 1, hot, false))
	res, err := h.dispatcher(Config{}).EvaluateFarm(context.Background(), fieldForecast)
	require.NoError(t, err)

	body, err := json.Marshal(res.Triggered)
	require.NoError(t, err)
	var back []types.TriggeredRule
	require.NoError(t, json.Unmarshal(body, &back))
	assert.Equal(t, res.Triggered, back)
}
