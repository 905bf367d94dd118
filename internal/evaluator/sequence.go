package evaluator

import (
	"context"
	"fmt"
	"time"

	"weatherrules/internal/types"
)

// evalSequence matches steps in order. Each step takes the earliest row that
// satisfies it inside the lookback window. A step's Within bounds the gap to
// the next step's match. With ordering required, a step searches from the
// previous step's match so matches never go backwards in time.
func (e *Evaluator) evalSequence(ctx context.Context, steps []types.ConditionNode, target Target, now time.Time) (bool, error) {
	if len(steps) == 0 {
		return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions, "SEQUENCE requires at least one step")
	}
	windowStart := now.Add(-e.sequenceLookback)

	var (
		prev       *types.LeafCondition
		prevMatch  time.Time
		maxGap     time.Duration
		haveMaxGap bool
	)
	for i, node := range steps {
		step, ok := node.(*types.LeafCondition)
		if !ok {
			return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions, "SEQUENCE step %d is not a leaf", i)
		}
		if !step.Operator.IsComparison() {
			return false, types.NewValidationError(types.ErrCodeValidationInvalidConditions,
				"SEQUENCE step %d uses operator %q", i, step.Operator)
		}

		haveMaxGap = false
		if prev != nil && prev.Within != "" {
			gap, err := ParseDuration(prev.Within)
			if err != nil {
				return false, err
			}
			maxGap, haveMaxGap = gap, true
		}

		since := windowStart
		if e.requireOrder && prev != nil {
			since = prevMatch
		}
		match, err := e.store.EarliestMatchAfter(ctx, target.FarmID, target.Table, step.Metric, step.Operator, step.Value, since)
		if err != nil {
			return false, fmt.Errorf("evaluator: sequence step %d: %w", i, err)
		}
		if match == nil {
			e.logger.DebugContext(ctx, "sequence step not found",
				"farm_id", target.FarmID, "step", i, "metric", step.Metric, "operator", step.Operator, "value", step.Value)
			return false, nil
		}

		if prev != nil && haveMaxGap {
			gap := match.Sub(prevMatch)
			if gap > maxGap {
				e.logger.DebugContext(ctx, "sequence gap exceeded",
					"farm_id", target.FarmID, "step", i, "gap_minutes", gap.Minutes(), "max_minutes", maxGap.Minutes())
				return false, nil
			}
		}
		prev, prevMatch = step, *match
	}
	e.logger.DebugContext(ctx, "sequence condition passed", "farm_id", target.FarmID, "steps", len(steps))
	return true, nil
}
