// Package evaluator interprets parsed condition trees against the
// time-series store. Evaluation is read-only; every leaf strategy issues at
// most two store queries and queries run strictly one after another.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"weatherrules/internal/types"
)

// Store is the subset of the observation gateway the evaluator reads.
type Store interface {
	CountMatching(ctx context.Context, farmID string, table types.Table, metric types.Metric, op types.LeafOperator, value float64, since time.Time) (int64, error)
	TwoMostRecent(ctx context.Context, farmID string, table types.Table, metric types.Metric, asOf time.Time) ([]types.Sample, error)
	AverageOver(ctx context.Context, farmID string, table types.Table, metric types.Metric, start, end time.Time) (*float64, error)
	EarliestMatchAfter(ctx context.Context, farmID string, table types.Table, metric types.Metric, op types.LeafOperator, value float64, since time.Time) (*time.Time, error)
}

// DefaultSequenceLookback is the trailing window searched by SEQUENCE steps.
const DefaultSequenceLookback = 24 * time.Hour

// Config configures an Evaluator.
type Config struct {
	Clock types.Clock
	// SequenceLookback bounds how far back SEQUENCE steps search.
	SequenceLookback time.Duration
	// RequireSequenceOrder makes each SEQUENCE step search from the previous
	// step's match instead of from the start of the lookback window.
	RequireSequenceOrder bool
	Logger               *slog.Logger
}

// Evaluator evaluates condition trees. It holds no per-farm state and is
// safe for concurrent use when the Store is.
type Evaluator struct {
	store            Store
	clock            types.Clock
	sequenceLookback time.Duration
	requireOrder     bool
	logger           *slog.Logger
}

// New creates an Evaluator over store.
func New(store Store, cfg Config) *Evaluator {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.SequenceLookback <= 0 {
		cfg.SequenceLookback = DefaultSequenceLookback
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Evaluator{
		store:            store,
		clock:            cfg.Clock,
		sequenceLookback: cfg.SequenceLookback,
		requireOrder:     cfg.RequireSequenceOrder,
		logger:           cfg.Logger,
	}
}

// Target is the farm, table and snapshot one condition tree is evaluated
// against. A nil Snapshot means no recent row exists.
type Target struct {
	FarmID   string
	Table    types.Table
	Snapshot *types.Observation
}

// Evaluate reports whether node holds for target. Insufficient history is a
// false result, not an error. Errors are validation errors for malformed
// parameters, store errors, or deadline errors.
func (e *Evaluator) Evaluate(ctx context.Context, node types.ConditionNode, target Target) (bool, error) {
	return e.eval(ctx, node, target, e.clock.Now())
}

func (e *Evaluator) eval(ctx context.Context, node types.ConditionNode, target Target, now time.Time) (bool, error) {
	if err := interrupted(ctx); err != nil {
		return false, err
	}
	switch n := node.(type) {
	case *types.LeafCondition:
		return e.evalLeaf(ctx, n, target, now)
	case *types.GroupCondition:
		return e.evalGroup(ctx, n, target, now)
	case nil:
		return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions, "empty condition node")
	default:
		return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions, "unsupported condition node %T", node)
	}
}

func (e *Evaluator) evalGroup(ctx context.Context, g *types.GroupCondition, target Target, now time.Time) (bool, error) {
	switch g.Operator {
	case types.GroupAnd:
		for _, sub := range g.SubConditions {
			ok, err := e.eval(ctx, sub, target, now)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case types.GroupOr:
		for _, sub := range g.SubConditions {
			ok, err := e.eval(ctx, sub, target, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case types.GroupNot:
		if len(g.SubConditions) != 1 {
			return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions,
				"NOT requires exactly one sub-condition, got %d", len(g.SubConditions))
		}
		ok, err := e.eval(ctx, g.SubConditions[0], target, now)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case types.GroupSequence:
		return e.evalSequence(ctx, g.SubConditions, target, now)
	}
	return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions, "unknown group operator %q", g.Operator)
}

func (e *Evaluator) evalLeaf(ctx context.Context, l *types.LeafCondition, target Target, now time.Time) (bool, error) {
	switch {
	case l.Operator == types.OpRateAbove:
		return e.rateAbove(ctx, l, target, now)
	case l.Operator == types.OpDayDiffAbove:
		return e.dayDiffAbove(ctx, l, target, now)
	case !l.Operator.IsComparison():
		e.logger.DebugContext(ctx, "unsupported leaf operator", "metric", l.Metric, "operator", l.Operator)
		return false, nil
	case l.HasWindow():
		return e.windowedCount(ctx, l, target, now)
	}

	actual, ok := target.Snapshot.Value(l.Metric)
	if !ok {
		e.logger.DebugContext(ctx, "no latest value", "farm_id", target.FarmID, "metric", l.Metric)
		return false, nil
	}
	return l.Operator.Compare(actual, l.Value), nil
}

// windowedCount holds when at least one row in the trailing window satisfies
// the comparison.
func (e *Evaluator) windowedCount(ctx context.Context, l *types.LeafCondition, target Target, now time.Time) (bool, error) {
	window, err := ParseDuration(l.Temporal.Duration)
	if err != nil {
		return false, err
	}
	count, err := e.store.CountMatching(ctx, target.FarmID, target.Table, l.Metric, l.Operator, l.Value, now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("evaluator: windowed count: %w", err)
	}
	e.logger.DebugContext(ctx, "temporal condition",
		"farm_id", target.FarmID, "metric", l.Metric, "operator", l.Operator,
		"value", l.Value, "duration", l.Temporal.Duration, "count", count)
	return count > 0, nil
}

// rateAbove compares the per-hour change between the two most recent
// samples against value per interval. A zero time delta yields a zero rate.
func (e *Evaluator) rateAbove(ctx context.Context, l *types.LeafCondition, target Target, now time.Time) (bool, error) {
	if l.Temporal == nil || l.Temporal.Interval == "" {
		return false, types.NewValidationError(types.ErrCodeValidationMissingField, "RATE> requires temporal.interval")
	}
	interval, err := ParseDuration(l.Temporal.Interval)
	if err != nil {
		return false, err
	}
	if interval <= 0 {
		return false, types.NewValidationError(types.ErrCodeValidationInvalidDuration, "RATE> interval must be positive")
	}

	samples, err := e.store.TwoMostRecent(ctx, target.FarmID, target.Table, l.Metric, now)
	if err != nil {
		return false, fmt.Errorf("evaluator: rate samples: %w", err)
	}
	if len(samples) < 2 {
		e.logger.DebugContext(ctx, "insufficient history for rate", "farm_id", target.FarmID, "metric", l.Metric, "samples", len(samples))
		return false, nil
	}

	expected := l.Value / interval.Hours()
	rate := Rate(samples[0], samples[1])
	e.logger.DebugContext(ctx, "rate of change",
		"farm_id", target.FarmID, "metric", l.Metric, "rate", rate, "expected_rate", expected)
	return rate > expected, nil
}

// Rate returns the per-hour change from older to newer, or 0 when both
// samples share a timestamp.
func Rate(newer, older types.Sample) float64 {
	hours := newer.Time.Sub(older.Time).Hours()
	if hours == 0 {
		return 0
	}
	return (newer.Value - older.Value) / hours
}

// dayDiffAbove holds when the day2 average exceeds the day1 average by more
// than value. A day without data makes the leaf false.
func (e *Evaluator) dayDiffAbove(ctx context.Context, l *types.LeafCondition, target Target, now time.Time) (bool, error) {
	if l.Temporal == nil || l.Temporal.Day1 == "" || l.Temporal.Day2 == "" {
		return false, types.NewValidationError(types.ErrCodeValidationMissingField, "DAY_DIFF> requires temporal.day1 and temporal.day2")
	}
	start1, end1, err := DayBounds(l.Temporal.Day1, now)
	if err != nil {
		return false, err
	}
	start2, end2, err := DayBounds(l.Temporal.Day2, now)
	if err != nil {
		return false, err
	}

	avg1, err := e.store.AverageOver(ctx, target.FarmID, target.Table, l.Metric, start1, end1)
	if err != nil {
		return false, fmt.Errorf("evaluator: %s average: %w", l.Temporal.Day1, err)
	}
	if avg1 == nil {
		e.logger.DebugContext(ctx, "no data for day", "farm_id", target.FarmID, "metric", l.Metric, "day", l.Temporal.Day1)
		return false, nil
	}
	avg2, err := e.store.AverageOver(ctx, target.FarmID, target.Table, l.Metric, start2, end2)
	if err != nil {
		return false, fmt.Errorf("evaluator: %s average: %w", l.Temporal.Day2, err)
	}
	if avg2 == nil {
		e.logger.DebugContext(ctx, "no data for day", "farm_id", target.FarmID, "metric", l.Metric, "day", l.Temporal.Day2)
		return false, nil
	}

	diff := *avg2 - *avg1
	e.logger.DebugContext(ctx, "day diff",
		"farm_id", target.FarmID, "metric", l.Metric, "day1_avg", *avg1, "day2_avg", *avg2, "diff", diff, "threshold", l.Value)
	return diff > l.Value, nil
}

// interrupted converts a done context into a classified error.
func interrupted(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeDeadlineExceeded, "evaluation deadline exceeded", err)
	}
	return types.NewAppError(types.ErrCodeInternalUnexpected, "evaluation cancelled", err)
}
