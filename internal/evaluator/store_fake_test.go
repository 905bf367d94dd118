package evaluator

import (
	"context"
	"time"

	"weatherrules/internal/types"
)

type countCall struct {
	metric types.Metric
	op     types.LeafOperator
	value  float64
	since  time.Time
}

type earliestCall struct {
	metric types.Metric
	since  time.Time
}

// fakeStore answers gateway queries from canned values and records calls.
type fakeStore struct {
	farmID string

	count    int64
	countErr error
	counts   []countCall

	samples   []types.Sample
	sampleErr error
	asOf      time.Time

	// averages is keyed by window start.
	averages map[time.Time]float64
	avgErr   error

	// matches answers EarliestMatchAfter per metric; a match earlier than
	// the requested since is treated as absent.
	matches   map[types.Metric]time.Time
	matchErr  error
	earliests []earliestCall
}

func (f *fakeStore) checkFarm(farmID string) {
	if f.farmID != "" && farmID != f.farmID {
		panic("query for unexpected farm " + farmID)
	}
}

func (f *fakeStore) CountMatching(_ context.Context, farmID string, _ types.Table, metric types.Metric, op types.LeafOperator, value float64, since time.Time) (int64, error) {
	f.checkFarm(farmID)
	f.counts = append(f.counts, countCall{metric, op, value, since})
	return f.count, f.countErr
}

func (f *fakeStore) TwoMostRecent(_ context.Context, farmID string, _ types.Table, _ types.Metric, asOf time.Time) ([]types.Sample, error) {
	f.checkFarm(farmID)
	f.asOf = asOf
	return f.samples, f.sampleErr
}

func (f *fakeStore) AverageOver(_ context.Context, farmID string, _ types.Table, _ types.Metric, start, _ time.Time) (*float64, error) {
	f.checkFarm(farmID)
	if f.avgErr != nil {
		return nil, f.avgErr
	}
	if v, ok := f.averages[start]; ok {
		return &v, nil
	}
	return nil, nil
}

func (f *fakeStore) EarliestMatchAfter(_ context.Context, farmID string, _ types.Table, metric types.Metric, _ types.LeafOperator, _ float64, since time.Time) (*time.Time, error) {
	f.checkFarm(farmID)
	f.earliests = append(f.earliests, earliestCall{metric, since})
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	at, ok := f.matches[metric]
	if !ok || at.Before(since) {
		return nil, nil
	}
	return &at, nil
}
