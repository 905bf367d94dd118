package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weatherrules/internal/types"
)

func TestDedupe(t *testing.T) {
	a := types.EvaluationRequest{FarmID: "a", Stakeholder: "field", DataType: types.DataTypeForecast}
	b := types.EvaluationRequest{FarmID: "a", Stakeholder: "field", DataType: types.DataTypeCurrent}
	assert.Equal(t, []types.EvaluationRequest{a, b}, Dedupe([]types.EvaluationRequest{a, b, a, b}))
	assert.Empty(t, Dedupe(nil))
}

func TestEvaluateMany_IsolatesFailures(t *testing.T) {
	h := newHarness(def("hot", 1, hot, true))
	d := h.dispatcher(Config{FarmConcurrency: 2})

	bad := types.EvaluationRequest{FarmID: "", Stakeholder: "field", DataType: types.DataTypeForecast}
	results := d.EvaluateMany(context.Background(), []types.EvaluationRequest{fieldForecast, bad, fieldForecast})
	require.Len(t, results, 2)

	assert.Equal(t, fieldForecast, results[0].Request)
	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"hot"}, triggeredIDs(results[0].Evaluation))

	assert.True(t, types.IsValidation(results[1].Err))
	assert.Nil(t, results[1].Evaluation)
}
