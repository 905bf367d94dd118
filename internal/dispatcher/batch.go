package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"weatherrules/internal/types"
)

// FarmResult pairs a request with its evaluation or error.
type FarmResult struct {
	Request    types.EvaluationRequest
	Evaluation *types.FarmEvaluation
	Err        error
}

// EvaluateMany runs EvaluateFarm for each distinct request with bounded
// concurrency. A failure for one farm never affects another. Results keep
// the order of first appearance.
func (d *Dispatcher) EvaluateMany(ctx context.Context, reqs []types.EvaluationRequest) []FarmResult {
	unique := Dedupe(reqs)
	results := make([]FarmResult, len(unique))

	var g errgroup.Group
	g.SetLimit(d.farmConcurrency)
	for i, req := range unique {
		g.Go(func() error {
			eval, err := d.EvaluateFarm(ctx, req)
			results[i] = FarmResult{Request: req, Evaluation: eval, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Dedupe drops repeated (farm, stakeholder, data type) triples.
func Dedupe(reqs []types.EvaluationRequest) []types.EvaluationRequest {
	seen := make(map[types.EvaluationRequest]struct{}, len(reqs))
	out := make([]types.EvaluationRequest, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
