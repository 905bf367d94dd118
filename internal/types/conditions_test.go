package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditions_Leaf(t *testing.T) {
	node, err := ParseConditions([]byte(`{"metric":"temperature_c","operator":">","value":35}`), DataTypeForecast)
	require.NoError(t, err)

	leaf, ok := node.(*LeafCondition)
	require.True(t, ok)
	assert.Equal(t, MetricTemperature, leaf.Metric)
	assert.Equal(t, OpGreaterThan, leaf.Operator)
	assert.Equal(t, 35.0, leaf.Value)
	assert.Nil(t, leaf.Temporal)
	assert.False(t, leaf.HasWindow())
}

func TestParseConditions_StringValue(t *testing.T) {
	node, err := ParseConditions([]byte(`{"metric":"rainfall_mm","operator":">=","value":"2.5"}`), "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, node.(*LeafCondition).Value)
}

func TestParseConditions_BareListIsAnd(t *testing.T) {
	raw := `[
		{"metric":"temperature_c","operator":">","value":30},
		{"operator":"OR","sub_conditions":[{"metric":"humidity_percent","operator":"<","value":20}]}
	]`
	node, err := ParseConditions([]byte(raw), DataTypeCurrent)
	require.NoError(t, err)

	group, ok := node.(*GroupCondition)
	require.True(t, ok)
	assert.Equal(t, GroupAnd, group.Operator)
	require.Len(t, group.SubConditions, 2)
	assert.IsType(t, &LeafCondition{}, group.SubConditions[0])
	assert.IsType(t, &GroupCondition{}, group.SubConditions[1])
}

func TestParseConditions_EmptyGroups(t *testing.T) {
	for _, op := range []string{"AND", "OR"} {
		node, err := ParseConditions([]byte(`{"operator":"`+op+`","sub_conditions":[]}`), "")
		require.NoError(t, err, op)
		assert.Empty(t, node.(*GroupCondition).SubConditions)
	}

	node, err := ParseConditions([]byte(`[]`), "")
	require.NoError(t, err)
	assert.Equal(t, GroupAnd, node.(*GroupCondition).Operator)
}

func TestParseConditions_Temporal(t *testing.T) {
	raw := `{"operator":"SEQUENCE","sub_conditions":[
		{"metric":"rainfall_mm","operator":">","value":0,"within":"60 minutes"},
		{"metric":"wind_speed_mps","operator":">","value":10,"temporal":{"within":"2 hours"}},
		{"metric":"temperature_c","operator":"<","value":5}
	]}`
	node, err := ParseConditions([]byte(raw), DataTypeForecast)
	require.NoError(t, err)

	steps := node.(*GroupCondition).SubConditions
	require.Len(t, steps, 3)
	assert.Equal(t, "60 minutes", steps[0].(*LeafCondition).Within)
	assert.Equal(t, "2 hours", steps[1].(*LeafCondition).Within)
	assert.Empty(t, steps[2].(*LeafCondition).Within)
}

func TestParseConditions_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		dataType DataType
		code     ErrorCode
	}{
		{"null", `null`, "", ErrCodeValidationMissingField},
		{"scalar", `42`, "", ErrCodeValidationInvalidConditions},
		{"no metric no group", `{"value":1}`, "", ErrCodeValidationInvalidConditions},
		{"unknown metric", `{"metric":"pressure_hpa","operator":">","value":1}`, "", ErrCodeValidationInvalidMetric},
		{"forecast only metric on current", `{"metric":"chance_of_rain_percent","operator":">","value":50}`, DataTypeCurrent, ErrCodeValidationInvalidMetric},
		{"current only metric on forecast", `{"metric":"solar_radiation_wm2","operator":">","value":500}`, DataTypeForecast, ErrCodeValidationInvalidMetric},
		{"missing operator", `{"metric":"temperature_c","value":1}`, "", ErrCodeValidationMissingField},
		{"bad leaf operator", `{"metric":"temperature_c","operator":"!=","value":1}`, "", ErrCodeValidationInvalidConditions},
		{"missing value", `{"metric":"temperature_c","operator":">"}`, "", ErrCodeValidationInvalidConditions},
		{"non numeric value", `{"metric":"temperature_c","operator":">","value":"hot"}`, "", ErrCodeValidationInvalidConditions},
		{"rate without interval", `{"metric":"temperature_c","operator":"RATE>","value":1,"temporal":{"duration":"1 hours"}}`, "", ErrCodeValidationMissingField},
		{"day diff without day2", `{"metric":"temperature_c","operator":"DAY_DIFF>","value":1,"temporal":{"day1":"today"}}`, "", ErrCodeValidationMissingField},
		{"bad group operator", `{"operator":"XOR","sub_conditions":[]}`, "", ErrCodeValidationInvalidConditions},
		{"group without sub_conditions", `{"operator":"AND"}`, "", ErrCodeValidationInvalidConditions},
		{"not with zero children", `{"operator":"NOT","sub_conditions":[]}`, "", ErrCodeValidationInvalidConditions},
		{"not with two children", `{"operator":"NOT","sub_conditions":[
			{"metric":"temperature_c","operator":">","value":1},
			{"metric":"temperature_c","operator":"<","value":9}]}`, "", ErrCodeValidationInvalidConditions},
		{"empty sequence", `{"operator":"SEQUENCE","sub_conditions":[]}`, "", ErrCodeValidationInvalidConditions},
		{"nested group in sequence", `{"operator":"SEQUENCE","sub_conditions":[{"operator":"AND","sub_conditions":[]}]}`, "", ErrCodeValidationInvalidConditions},
		{"bad nested child", `{"operator":"AND","sub_conditions":[{"metric":"temperature_c","operator":">"}]}`, "", ErrCodeValidationInvalidConditions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConditions([]byte(tt.raw), tt.dataType)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, tt.code, ErrorCodeOf(err))
		})
	}
}

func TestConditionTree_MarshalRoundTrip(t *testing.T) {
	raw := `{"operator":"OR","sub_conditions":[
		{"metric":"temperature_c","operator":"DAY_DIFF>","value":3,"temporal":{"day1":"today","day2":"tomorrow"}},
		{"operator":"NOT","sub_conditions":[{"metric":"humidity_percent","operator":"<","value":40}]}
	]}`
	node, err := ParseConditions([]byte(raw), DataTypeForecast)
	require.NoError(t, err)

	out, err := json.Marshal(node)
	require.NoError(t, err)

	again, err := ParseConditions(out, DataTypeForecast)
	require.NoError(t, err)
	assert.Equal(t, node, again)
}
