// Package config defines the process configuration for the rule engine, the
// ingestion job and the rules API. Configuration is loaded once at cold start
// and is immutable thereafter.
//
// Values resolve through the chain
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// and any invalid value fails the load.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"weatherrules/internal/types"
)

// SecretString is the redacted secret type used for credentials.
type SecretString = types.SecretString

// Config is the top-level configuration. Mains hand each component only the
// section it needs.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"weather-rules"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Evaluation    EvaluationConfig
	Ingestion     IngestionConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds settings for the standalone rules API.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds the observation store connection and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-south-1"`

	RulesTable      string `envconfig:"RULES_TABLE" default:"WeatherRules" validate:"required"`
	StakeholderIdx  string `envconfig:"RULES_STAKEHOLDER_INDEX" default:"StakeholderIndex" validate:"required"`
	NotificationURL string `envconfig:"SQS_NOTIFICATIONS" validate:"omitempty,url"`

	// LocalStack support; empty in deployed environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// EvaluationConfig tunes rule evaluation.
type EvaluationConfig struct {
	QueryTimeout         time.Duration `envconfig:"EVAL_QUERY_TIMEOUT" default:"5s" validate:"gt=0"`
	FarmDeadline         time.Duration `envconfig:"EVAL_FARM_DEADLINE" default:"60s" validate:"gt=0"`
	SnapshotLookback     time.Duration `envconfig:"EVAL_SNAPSHOT_LOOKBACK" default:"24h" validate:"gt=0"`
	SequenceLookback     time.Duration `envconfig:"EVAL_SEQUENCE_LOOKBACK" default:"24h" validate:"gt=0"`
	RequireSequenceOrder bool          `envconfig:"EVAL_REQUIRE_SEQUENCE_ORDER" default:"true"`
	RuleConcurrency      int           `envconfig:"EVAL_RULE_CONCURRENCY" default:"1" validate:"min=1,max=32"`
	FarmConcurrency      int           `envconfig:"EVAL_FARM_CONCURRENCY" default:"4" validate:"min=1,max=64"`
}

// IngestionConfig configures the provider polling job.
type IngestionConfig struct {
	OpenWeatherAPIKey SecretString  `envconfig:"OPENWEATHER_API_KEY"`
	WeatherAPIKey     SecretString  `envconfig:"WEATHERAPI_API_KEY"`
	LocationsJSON     string        `envconfig:"INGEST_LOCATIONS_JSON" validate:"omitempty,json"`
	Concurrency       int           `envconfig:"INGEST_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	HTTPTimeout       time.Duration `envconfig:"INGEST_HTTP_TIMEOUT" default:"15s" validate:"gt=0"`
	ForecastDays      int           `envconfig:"INGEST_FORECAST_DAYS" default:"5" validate:"min=1,max=14"`
	UserAgent         string        `envconfig:"INGEST_USER_AGENT" default:"weather-rules-ingestor/1.0 ops@weather-rules.dev" validate:"required"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"WeatherRules"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// DefaultLocations are the farms polled when INGEST_LOCATIONS_JSON is unset.
var DefaultLocations = []types.Location{
	{FarmID: "udaipur_farm1", Lat: 24.5854, Lon: 73.7125},
	{FarmID: "location2", Lat: 25.1234, Lon: 74.5678},
	{FarmID: "location3", Lat: 26.4321, Lon: 75.8765},
}

// Locations decodes INGEST_LOCATIONS_JSON, falling back to DefaultLocations.
func (c IngestionConfig) Locations() ([]types.Location, error) {
	if strings.TrimSpace(c.LocationsJSON) == "" {
		out := make([]types.Location, len(DefaultLocations))
		copy(out, DefaultLocations)
		return out, nil
	}
	var locs []types.Location
	if err := json.Unmarshal([]byte(c.LocationsJSON), &locs); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "INGEST_LOCATIONS_JSON must be a list of locations", Err: err}
	}
	if len(locs) == 0 {
		return nil, &ConfigError{Type: ErrValidation, Message: "INGEST_LOCATIONS_JSON is empty"}
	}
	seen := make(map[string]struct{}, len(locs))
	for i, loc := range locs {
		if err := types.ValidateStruct(types.ErrCodeValidationInvalidRequest, loc); err != nil {
			return nil, &ConfigError{Type: ErrValidation, Message: fmt.Sprintf("INGEST_LOCATIONS_JSON[%d]", i), Err: err}
		}
		if _, dup := seen[loc.FarmID]; dup {
			return nil, &ConfigError{Type: ErrValidation, Message: fmt.Sprintf("duplicate farm_id %q in INGEST_LOCATIONS_JSON", loc.FarmID)}
		}
		seen[loc.FarmID] = struct{}{}
	}
	return locs, nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsLocal reports whether the process runs outside AWS.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
