package external

import (
	"context"
	"time"

	"weatherrules/internal/types"
)

// Source names as stored in the source column of the weather tables.
const (
	SourceOpenWeather = "openweather"
	SourceWeatherAPI  = "weatherapi"
	SourceYrNo        = "yrno"
	SourceOpenMeteo   = "openmeteo"
)

// Provider fetches the current conditions and the forecast for one location
// and normalizes them to metric units: temperature in °C, wind speed in m/s,
// rainfall in mm and percentages in 0..100.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error)
}

// ProviderOptions are shared by every provider client.
type ProviderOptions struct {
	// BaseURL overrides the public endpoint. Tests point it at httptest.
	BaseURL string
	// ForecastDays bounds the forecast horizon. Defaults to 5.
	ForecastDays int
	Clock        types.Clock
}

func (o ProviderOptions) withDefaults(baseURL string) ProviderOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.ForecastDays <= 0 {
		o.ForecastDays = 5
	}
	if o.Clock == nil {
		o.Clock = types.RealClock{}
	}
	return o
}

// horizon returns the latest forecast instant kept for a fetch at now.
func (o ProviderOptions) horizon(now time.Time) time.Time {
	return now.Add(time.Duration(o.ForecastDays) * 24 * time.Hour)
}
