package types

import (
	"encoding/json"
	"time"
)

// Location is a farm site polled by the ingestion job.
type Location struct {
	FarmID      string  `json:"farm_id" validate:"required,max=100"`
	Lat         float64 `json:"lat" validate:"latitude"`
	Lon         float64 `json:"lon" validate:"longitude"`
	DisplayName string  `json:"display_name,omitempty"`
}

// Action is a pre-rendered notification attached to a rule.
type Action struct {
	Type    ActionType `json:"type" dynamodbav:"type" validate:"required,oneof=sms email"`
	Message string     `json:"message" dynamodbav:"message" validate:"required"`
}

// RuleDefinition is a rule as stored in the catalog and accepted over the
// API. Conditions are kept raw until ParseRule validates them.
type RuleDefinition struct {
	FarmID      string          `json:"farm_id" validate:"required"`
	RuleID      string          `json:"rule_id" validate:"required"`
	Name        string          `json:"name" validate:"required,max=200"`
	Stakeholder string          `json:"stakeholder" validate:"required"`
	DataType    DataType        `json:"data_type" validate:"required,oneof=forecast current"`
	Priority    int             `json:"priority" validate:"required,min=1,max=10"`
	Conditions  json.RawMessage `json:"conditions" validate:"required"`
	Actions     []Action        `json:"actions" validate:"required,dive"`
	StopOnMatch *bool           `json:"stop_on_match,omitempty"`
}

// StopsOnMatch returns the effective stop_on_match flag. Absent means true.
func (d RuleDefinition) StopsOnMatch() bool {
	return d.StopOnMatch == nil || *d.StopOnMatch
}

// Rule is a validated rule ready for evaluation.
type Rule struct {
	RuleID      string
	FarmID      string
	Stakeholder string
	DataType    DataType
	Name        string
	Priority    int
	Conditions  ConditionNode
	Actions     []Action
	StopOnMatch bool
}

// TriggeredRule is one entry of the dispatch output.
type TriggeredRule struct {
	RuleID  string   `json:"rule_id"`
	Actions []Action `json:"actions"`
}

// SkippedRule records a rule that was not evaluated and why.
type SkippedRule struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// EvaluationRequest selects the rules to evaluate in one pass.
type EvaluationRequest struct {
	FarmID      string   `json:"farm_id" validate:"required"`
	Stakeholder string   `json:"stakeholder" validate:"required"`
	DataType    DataType `json:"data_type" validate:"required,oneof=forecast current"`
}

// FarmEvaluation is the outcome of one evaluation pass. Triggered is never
// nil so it always serializes as a list.
type FarmEvaluation struct {
	FarmID      string          `json:"farm_id"`
	Stakeholder string          `json:"stakeholder"`
	DataType    DataType        `json:"data_type"`
	Triggered   []TriggeredRule `json:"triggered"`
	Skipped     []SkippedRule   `json:"skipped,omitempty"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

// Observation is one row of a weather table. Metrics a provider does not
// report are nil.
type Observation struct {
	FarmID string    `json:"farm_id"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`

	TemperatureC        *float64 `json:"temperature_c,omitempty"`
	HumidityPercent     *float64 `json:"humidity_percent,omitempty"`
	WindSpeedMPS        *float64 `json:"wind_speed_mps,omitempty"`
	WindDirectionDeg    *float64 `json:"wind_direction_deg,omitempty"`
	RainfallMM          *float64 `json:"rainfall_mm,omitempty"`
	ChanceOfRainPercent *float64 `json:"chance_of_rain_percent,omitempty"`
	SolarRadiationWM2   *float64 `json:"solar_radiation_wm2,omitempty"`
}

// field returns the storage slot for m, or nil for unknown metrics.
func (o *Observation) field(m Metric) **float64 {
	switch m {
	case MetricTemperature:
		return &o.TemperatureC
	case MetricHumidity:
		return &o.HumidityPercent
	case MetricWindSpeed:
		return &o.WindSpeedMPS
	case MetricWindDirection:
		return &o.WindDirectionDeg
	case MetricRainfall:
		return &o.RainfallMM
	case MetricChanceOfRain:
		return &o.ChanceOfRainPercent
	case MetricSolarRadiation:
		return &o.SolarRadiationWM2
	}
	return nil
}

// Value returns the metric value and whether it is present. A nil
// observation has no values.
func (o *Observation) Value(m Metric) (float64, bool) {
	if o == nil {
		return 0, false
	}
	slot := o.field(m)
	if slot == nil || *slot == nil {
		return 0, false
	}
	return **slot, true
}

// Set stores v for metric m. Unknown metrics are ignored.
func (o *Observation) Set(m Metric, v float64) {
	if slot := o.field(m); slot != nil {
		*slot = &v
	}
}

// Ptr returns the stored value pointer for m; nil when absent. Used to bind
// nullable columns.
func (o *Observation) Ptr(m Metric) *float64 {
	if o == nil {
		return nil
	}
	if slot := o.field(m); slot != nil {
		return *slot
	}
	return nil
}

// Float returns a pointer to v, for building observations.
func Float(v float64) *float64 { return &v }

// Sample is one metric value at one instant.
type Sample struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// ProviderReading is one provider's normalized response for one location.
type ProviderReading struct {
	Source   string
	Current  *Observation
	Forecast []Observation
}
