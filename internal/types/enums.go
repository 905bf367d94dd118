package types

// DataType selects which observation table a rule is evaluated against.
type DataType string

const (
	DataTypeForecast DataType = "forecast"
	DataTypeCurrent  DataType = "current"
)

// Table returns the observation table backing this data type. Anything that
// is not "forecast" resolves to the current table.
func (d DataType) Table() Table {
	if d == DataTypeForecast {
		return TableForecast
	}
	return TableCurrent
}

// Table identifies a time-series observation table.
type Table string

const (
	TableForecast Table = "forecast_weather"
	TableCurrent  Table = "current_weather"
)

// TimeColumn returns the column that orders rows in the table.
func (t Table) TimeColumn() string {
	if t == TableForecast {
		return "forecast_for"
	}
	return "timestamp"
}

// Metric is a weather variable stored as a column in the observation tables.
type Metric string

const (
	MetricTemperature    Metric = "temperature_c"
	MetricHumidity       Metric = "humidity_percent"
	MetricWindSpeed      Metric = "wind_speed_mps"
	MetricWindDirection  Metric = "wind_direction_deg"
	MetricRainfall       Metric = "rainfall_mm"
	MetricChanceOfRain   Metric = "chance_of_rain_percent"
	MetricSolarRadiation Metric = "solar_radiation_wm2"
)

// AllMetrics lists every metric in column order.
var AllMetrics = []Metric{
	MetricTemperature,
	MetricHumidity,
	MetricWindSpeed,
	MetricWindDirection,
	MetricRainfall,
	MetricChanceOfRain,
	MetricSolarRadiation,
}

// IsValid reports whether m is a known metric.
func (m Metric) IsValid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// AvailableFor reports whether the metric exists as a column for the data type.
// chance_of_rain_percent is forecast-only and solar_radiation_wm2 is current-only.
func (m Metric) AvailableFor(d DataType) bool {
	switch m {
	case MetricChanceOfRain:
		return d == DataTypeForecast
	case MetricSolarRadiation:
		return d == DataTypeCurrent
	default:
		return m.IsValid()
	}
}

// LeafOperator is the comparison applied by a leaf condition.
type LeafOperator string

const (
	OpGreaterThan   LeafOperator = ">"
	OpLessThan      LeafOperator = "<"
	OpEqual         LeafOperator = "="
	OpGreaterThanEq LeafOperator = ">="
	OpLessThanEq    LeafOperator = "<="
	OpRateAbove     LeafOperator = "RATE>"
	OpDayDiffAbove  LeafOperator = "DAY_DIFF>"
)

// IsComparison reports whether the operator is a plain value comparison that
// can be pushed down into a store query.
func (o LeafOperator) IsComparison() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpEqual, OpGreaterThanEq, OpLessThanEq:
		return true
	}
	return false
}

// IsValid reports whether o is a supported leaf operator.
func (o LeafOperator) IsValid() bool {
	return o.IsComparison() || o == OpRateAbove || o == OpDayDiffAbove
}

// Compare applies the operator to (actual, threshold). Equality is exact.
// Non-comparison operators return false.
func (o LeafOperator) Compare(actual, threshold float64) bool {
	switch o {
	case OpGreaterThan:
		return actual > threshold
	case OpLessThan:
		return actual < threshold
	case OpEqual:
		return actual == threshold
	case OpGreaterThanEq:
		return actual >= threshold
	case OpLessThanEq:
		return actual <= threshold
	}
	return false
}

// GroupOperator combines sub-conditions.
type GroupOperator string

const (
	GroupAnd      GroupOperator = "AND"
	GroupOr       GroupOperator = "OR"
	GroupNot      GroupOperator = "NOT"
	GroupSequence GroupOperator = "SEQUENCE"
)

// IsValid reports whether g is a supported group operator.
func (g GroupOperator) IsValid() bool {
	switch g {
	case GroupAnd, GroupOr, GroupNot, GroupSequence:
		return true
	}
	return false
}

// ActionType identifies a notification channel for a rule action.
type ActionType string

const (
	ActionSMS   ActionType = "sms"
	ActionEmail ActionType = "email"
)

// DeliveryStatus is the outcome recorded for a single action notification.
type DeliveryStatus string

const (
	DeliveryStatusSent           DeliveryStatus = "sent"
	DeliveryStatusFailed         DeliveryStatus = "failed"
	DeliveryStatusNotImplemented DeliveryStatus = "not_implemented"
)

// Day tokens accepted by DAY_DIFF> conditions. "day_N" tokens are parsed
// separately (N is a signed day offset).
const (
	DayToday    = "today"
	DayTomorrow = "tomorrow"
	DayPrefix   = "day_"
)

// MetricNamespace is the CloudWatch namespace used when none is configured.
const MetricNamespace = "WeatherRules"

// CloudWatch metric and dimension names.
const (
	MetricNameRulesEvaluated    = "RulesEvaluated"
	MetricNameRulesTriggered    = "RulesTriggered"
	MetricNameEvaluationFailure = "EvaluationFailures"
	MetricNameDeliveryAttempt   = "DeliveryAttempt"
	MetricNameIngestSucceeded   = "IngestPairsSucceeded"
	MetricNameIngestFailed      = "IngestPairsFailed"

	DimDataType = "DataType"
	DimChannel  = "Channel"
	DimResult   = "Result"
)
