package external

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"weatherrules/internal/types"
)

const openWeatherBaseURL = "https://api.openweathermap.org"

// OpenWeatherClient reads /data/2.5/weather and the 3-hourly /data/2.5/forecast.
type OpenWeatherClient struct {
	base   *BaseClient
	apiKey types.SecretString
	opts   ProviderOptions
}

func NewOpenWeatherClient(base *BaseClient, apiKey types.SecretString, opts ProviderOptions) *OpenWeatherClient {
	return &OpenWeatherClient{base: base, apiKey: apiKey, opts: opts.withDefaults(openWeatherBaseURL)}
}

func (c *OpenWeatherClient) Name() string { return SourceOpenWeather }

type owMain struct {
	Temp     *float64 `json:"temp"`
	Humidity *float64 `json:"humidity"`
}

type owWind struct {
	Speed *float64 `json:"speed"`
	Deg   *float64 `json:"deg"`
}

type owCurrent struct {
	Dt   int64              `json:"dt"`
	Main owMain             `json:"main"`
	Wind owWind             `json:"wind"`
	Rain map[string]float64 `json:"rain"`
}

type owForecast struct {
	List []struct {
		Dt   int64              `json:"dt"`
		Main owMain             `json:"main"`
		Wind owWind             `json:"wind"`
		Rain map[string]float64 `json:"rain"`
		Pop  *float64           `json:"pop"`
	} `json:"list"`
}

func (c *OpenWeatherClient) endpoint(path string, loc types.Location) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("appid", c.apiKey.Unmask())
	q.Set("units", "metric")
	return c.opts.BaseURL + path + "?" + q.Encode()
}

// Fetch issues the current and forecast requests. Missing rain blocks mean
// no rain; pop is scaled to a percentage.
func (c *OpenWeatherClient) Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error) {
	now := c.opts.Clock.Now()

	var cur owCurrent
	if err := c.base.GetJSON(ctx, c.endpoint("/data/2.5/weather", loc), nil, &cur); err != nil {
		return nil, fmt.Errorf("openweather: current: %w", err)
	}
	current := &types.Observation{
		FarmID:           loc.FarmID,
		Source:           SourceOpenWeather,
		Time:             unixOr(cur.Dt, now),
		TemperatureC:     cur.Main.Temp,
		HumidityPercent:  cur.Main.Humidity,
		WindSpeedMPS:     cur.Wind.Speed,
		WindDirectionDeg: cur.Wind.Deg,
		RainfallMM:       types.Float(cur.Rain["1h"]),
	}

	var fc owForecast
	if err := c.base.GetJSON(ctx, c.endpoint("/data/2.5/forecast", loc), nil, &fc); err != nil {
		return nil, fmt.Errorf("openweather: forecast: %w", err)
	}
	limit := c.opts.horizon(now)
	forecast := make([]types.Observation, 0, len(fc.List))
	for _, item := range fc.List {
		at := time.Unix(item.Dt, 0).UTC()
		if at.After(limit) {
			continue
		}
		obs := types.Observation{
			FarmID:           loc.FarmID,
			Source:           SourceOpenWeather,
			Time:             at,
			TemperatureC:     item.Main.Temp,
			HumidityPercent:  item.Main.Humidity,
			WindSpeedMPS:     item.Wind.Speed,
			WindDirectionDeg: item.Wind.Deg,
			RainfallMM:       types.Float(item.Rain["3h"]),
		}
		if item.Pop != nil {
			obs.ChanceOfRainPercent = types.Float(*item.Pop * 100)
		}
		forecast = append(forecast, obs)
	}

	return &types.ProviderReading{Source: SourceOpenWeather, Current: current, Forecast: forecast}, nil
}

func unixOr(sec int64, fallback time.Time) time.Time {
	if sec <= 0 {
		return fallback
	}
	return time.Unix(sec, 0).UTC()
}
