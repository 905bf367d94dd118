// Package dispatcher selects the rules for a farm, evaluates them in priority
// order and hands triggered actions to the notifier.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"weatherrules/internal/evaluator"
	"weatherrules/internal/types"
)

// Gateway is the read side of the observation store.
type Gateway interface {
	evaluator.Store
	Latest(ctx context.Context, farmID string, table types.Table, since time.Time) (*types.Observation, error)
}

// RuleSource loads candidate rules for a farm and stakeholder.
type RuleSource interface {
	ListRules(ctx context.Context, farmID, stakeholder string) ([]types.RuleDefinition, error)
}

// Notifier delivers one action of a triggered rule.
type Notifier interface {
	Notify(ctx context.Context, action types.Action, alert types.Alert) (types.DeliveryStatus, error)
}

// Metrics receives per-pass counters. Implementations must not block.
type Metrics interface {
	RecordEvaluation(ctx context.Context, dataType types.DataType, evaluated, triggered int)
	RecordEvaluationFailure(ctx context.Context, dataType types.DataType)
}

const (
	DefaultSnapshotLookback = 24 * time.Hour
	DefaultFarmDeadline     = 60 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	Clock types.Clock
	// SnapshotLookback bounds how old the latest row may be.
	SnapshotLookback time.Duration
	// FarmDeadline bounds one EvaluateFarm call.
	FarmDeadline time.Duration
	// RuleConcurrency > 1 evaluates rules in parallel. Results are still
	// applied in priority order.
	RuleConcurrency int
	// FarmConcurrency bounds EvaluateMany.
	FarmConcurrency      int
	SequenceLookback     time.Duration
	RequireSequenceOrder bool
	Metrics              Metrics
	Logger               *slog.Logger
}

// Dispatcher runs evaluation passes.
type Dispatcher struct {
	gateway   Gateway
	rules     RuleSource
	notifier  Notifier
	evaluator *evaluator.Evaluator
	clock     types.Clock
	metrics   Metrics
	logger    *slog.Logger

	snapshotLookback time.Duration
	farmDeadline     time.Duration
	ruleConcurrency  int
	farmConcurrency  int
}

// New creates a Dispatcher.
func New(gateway Gateway, rules RuleSource, notifier Notifier, cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SnapshotLookback <= 0 {
		cfg.SnapshotLookback = DefaultSnapshotLookback
	}
	if cfg.FarmDeadline <= 0 {
		cfg.FarmDeadline = DefaultFarmDeadline
	}
	if cfg.RuleConcurrency < 1 {
		cfg.RuleConcurrency = 1
	}
	if cfg.FarmConcurrency < 1 {
		cfg.FarmConcurrency = 1
	}
	return &Dispatcher{
		gateway:  gateway,
		rules:    rules,
		notifier: notifier,
		evaluator: evaluator.New(gateway, evaluator.Config{
			Clock:                cfg.Clock,
			SequenceLookback:     cfg.SequenceLookback,
			RequireSequenceOrder: cfg.RequireSequenceOrder,
			Logger:               cfg.Logger,
		}),
		clock:            cfg.Clock,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		snapshotLookback: cfg.SnapshotLookback,
		farmDeadline:     cfg.FarmDeadline,
		ruleConcurrency:  cfg.RuleConcurrency,
		farmConcurrency:  cfg.FarmConcurrency,
	}
}

// EvaluateFarm runs one pass for (farm, stakeholder, data type). A rule with
// an invalid definition is skipped; a store or deadline error aborts the
// pass. Notification failures never abort it.
func (d *Dispatcher) EvaluateFarm(ctx context.Context, req types.EvaluationRequest) (*types.FarmEvaluation, error) {
	if err := types.ValidateStruct(types.ErrCodeValidationInvalidRequest, req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d.farmDeadline)
	defer cancel()

	logger := d.logger.With("farm_id", req.FarmID, "stakeholder", req.Stakeholder, "data_type", req.DataType)
	result, err := d.evaluateFarm(ctx, req, logger)
	if err != nil {
		logger.ErrorContext(ctx, "evaluation pass failed", "error", err)
		if d.metrics != nil {
			d.metrics.RecordEvaluationFailure(ctx, req.DataType)
		}
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) evaluateFarm(ctx context.Context, req types.EvaluationRequest, logger *slog.Logger) (*types.FarmEvaluation, error) {
	now := d.clock.Now()
	table := req.DataType.Table()

	snapshot, err := d.gateway.Latest(ctx, req.FarmID, table, now.Add(-d.snapshotLookback))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: load snapshot: %w", err)
	}
	if snapshot == nil {
		logger.InfoContext(ctx, "no recent observation, instant comparisons will not match")
	}

	defs, err := d.rules.ListRules(ctx, req.FarmID, req.Stakeholder)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: list rules: %w", err)
	}

	result := &types.FarmEvaluation{
		FarmID:      req.FarmID,
		Stakeholder: req.Stakeholder,
		DataType:    req.DataType,
		Triggered:   []types.TriggeredRule{},
		EvaluatedAt: now,
	}
	rules := d.selectRules(ctx, defs, req.DataType, result, logger)
	target := evaluator.Target{FarmID: req.FarmID, Table: table, Snapshot: snapshot}

	var outcomes []outcome
	if d.ruleConcurrency > 1 && len(rules) > 1 {
		outcomes = d.evaluateParallel(ctx, rules, target)
	} else {
		outcomes = d.evaluateSequential(ctx, rules, target)
	}

	evaluated := 0
	for i, o := range outcomes {
		rule := rules[i]
		if o.abort != nil {
			return nil, o.abort
		}
		evaluated++
		switch {
		case o.err != nil:
			logger.WarnContext(ctx, "rule skipped: invalid conditions", "rule_id", rule.RuleID, "error", o.err)
			result.Skipped = append(result.Skipped, types.SkippedRule{RuleID: rule.RuleID, Reason: o.err.Error()})
			continue
		case !o.matched:
			logger.InfoContext(ctx, "rule not triggered", "rule_id", rule.RuleID)
			continue
		}

		logger.InfoContext(ctx, "rule triggered", "rule_id", rule.RuleID, "priority", rule.Priority)
		result.Triggered = append(result.Triggered, types.TriggeredRule{RuleID: rule.RuleID, Actions: rule.Actions})
		d.notify(ctx, rule, req.FarmID, logger)
		if rule.StopOnMatch {
			logger.InfoContext(ctx, "stopping evaluation on match", "rule_id", rule.RuleID)
			break
		}
	}

	if d.metrics != nil {
		d.metrics.RecordEvaluation(ctx, req.DataType, evaluated, len(result.Triggered))
	}
	return result, nil
}

// selectRules keeps rules of the requested data type that parse, ordered by
// priority with ties in fetch order.
func (d *Dispatcher) selectRules(ctx context.Context, defs []types.RuleDefinition, dataType types.DataType, result *types.FarmEvaluation, logger *slog.Logger) []*types.Rule {
	rules := make([]*types.Rule, 0, len(defs))
	for _, def := range defs {
		if def.DataType != dataType {
			logger.InfoContext(ctx, "rule skipped: data type mismatch", "rule_id", def.RuleID, "rule_data_type", def.DataType)
			continue
		}
		rule, err := types.ParseRule(def)
		if err != nil {
			logger.WarnContext(ctx, "rule skipped: invalid definition", "rule_id", def.RuleID, "error", err)
			result.Skipped = append(result.Skipped, types.SkippedRule{RuleID: def.RuleID, Reason: err.Error()})
			continue
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}

// outcome is one rule's evaluation. err holds a validation error, which
// skips the rule. abort holds any other error; it fails the pass once the
// priority-order walk reaches the rule.
type outcome struct {
	matched bool
	err     error
	abort   error
}

// evaluateSequential stops evaluating after the first stop-on-match rule or
// the first aborting error so no query is issued for rules that cannot
// contribute.
func (d *Dispatcher) evaluateSequential(ctx context.Context, rules []*types.Rule, target evaluator.Target) []outcome {
	outcomes := make([]outcome, 0, len(rules))
	for _, rule := range rules {
		o := d.evaluateRule(ctx, rule, target)
		outcomes = append(outcomes, o)
		if o.abort != nil || (o.matched && rule.StopOnMatch) {
			break
		}
	}
	return outcomes
}

// evaluateParallel evaluates every rule. Errors stay in their outcome so a
// failure behind a stop-on-match rule is ignored exactly as in the
// sequential walk.
func (d *Dispatcher) evaluateParallel(ctx context.Context, rules []*types.Rule, target evaluator.Target) []outcome {
	outcomes := make([]outcome, len(rules))
	var g errgroup.Group
	g.SetLimit(d.ruleConcurrency)
	for i, rule := range rules {
		g.Go(func() error {
			outcomes[i] = d.evaluateRule(ctx, rule, target)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) evaluateRule(ctx context.Context, rule *types.Rule, target evaluator.Target) outcome {
	matched, err := d.evaluator.Evaluate(ctx, rule.Conditions, target)
	if err != nil {
		if types.IsValidation(err) {
			return outcome{err: err}
		}
		return outcome{abort: fmt.Errorf("dispatcher: rule %s: %w", rule.RuleID, err)}
	}
	return outcome{matched: matched}
}

func (d *Dispatcher) notify(ctx context.Context, rule *types.Rule, farmID string, logger *slog.Logger) {
	if d.notifier == nil {
		return
	}
	alert := types.Alert{FarmID: farmID, RuleID: rule.RuleID, RuleName: rule.Name}
	for _, action := range rule.Actions {
		status, err := d.notifier.Notify(ctx, action, alert)
		if err != nil {
			logger.ErrorContext(ctx, "notification failed", "rule_id", rule.RuleID, "channel", action.Type, "error", err)
			continue
		}
		logger.InfoContext(ctx, "notification handled", "rule_id", rule.RuleID, "channel", action.Type, "status", status)
	}
}
