package external

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"weatherrules/internal/types"
)

const weatherAPIBaseURL = "https://api.weatherapi.com"

// weatherAPIHourLayout is the local-time format of forecast hours. It is
// read as UTC when time_epoch is absent.
const weatherAPIHourLayout = "2006-01-02 15:04"

// WeatherAPIClient reads forecast.json, which carries both the current
// block and the hourly forecast.
type WeatherAPIClient struct {
	base   *BaseClient
	apiKey types.SecretString
	opts   ProviderOptions
}

func NewWeatherAPIClient(base *BaseClient, apiKey types.SecretString, opts ProviderOptions) *WeatherAPIClient {
	return &WeatherAPIClient{base: base, apiKey: apiKey, opts: opts.withDefaults(weatherAPIBaseURL)}
}

func (c *WeatherAPIClient) Name() string { return SourceWeatherAPI }

type waResponse struct {
	Current struct {
		LastUpdatedEpoch int64    `json:"last_updated_epoch"`
		TempC            *float64 `json:"temp_c"`
		Humidity         *float64 `json:"humidity"`
		WindKPH          *float64 `json:"wind_kph"`
		WindDegree       *float64 `json:"wind_degree"`
		PrecipMM         *float64 `json:"precip_mm"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Hour []struct {
				TimeEpoch    int64    `json:"time_epoch"`
				Time         string   `json:"time"`
				TempC        *float64 `json:"temp_c"`
				Humidity     *float64 `json:"humidity"`
				WindKPH      *float64 `json:"wind_kph"`
				WindDegree   *float64 `json:"wind_degree"`
				PrecipMM     *float64 `json:"precip_mm"`
				ChanceOfRain *float64 `json:"chance_of_rain"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func kphToMPS(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return types.Float(*v / 3.6)
}

func (c *WeatherAPIClient) Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error) {
	now := c.opts.Clock.Now()

	q := url.Values{}
	q.Set("key", c.apiKey.Unmask())
	q.Set("q", strconv.FormatFloat(loc.Lat, 'f', -1, 64)+","+strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("days", strconv.Itoa(c.opts.ForecastDays))
	q.Set("aqi", "no")
	q.Set("alerts", "no")

	var resp waResponse
	if err := c.base.GetJSON(ctx, c.opts.BaseURL+"/v1/forecast.json?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("weatherapi: %w", err)
	}

	cur := resp.Current
	current := &types.Observation{
		FarmID:           loc.FarmID,
		Source:           SourceWeatherAPI,
		Time:             unixOr(cur.LastUpdatedEpoch, now),
		TemperatureC:     cur.TempC,
		HumidityPercent:  cur.Humidity,
		WindSpeedMPS:     kphToMPS(cur.WindKPH),
		WindDirectionDeg: cur.WindDegree,
		RainfallMM:       cur.PrecipMM,
	}

	limit := c.opts.horizon(now)
	var forecast []types.Observation
	for _, day := range resp.Forecast.ForecastDay {
		for _, h := range day.Hour {
			at := time.Unix(h.TimeEpoch, 0).UTC()
			if h.TimeEpoch <= 0 {
				parsed, err := time.ParseInLocation(weatherAPIHourLayout, h.Time, time.UTC)
				if err != nil {
					return nil, types.NewAppError(types.ErrCodeUpstreamBadPayload,
						fmt.Sprintf("weatherapi: bad hour time %q", h.Time), err)
				}
				at = parsed
			}
			if at.After(limit) {
				continue
			}
			forecast = append(forecast, types.Observation{
				FarmID:              loc.FarmID,
				Source:              SourceWeatherAPI,
				Time:                at,
				TemperatureC:        h.TempC,
				HumidityPercent:     h.Humidity,
				WindSpeedMPS:        kphToMPS(h.WindKPH),
				WindDirectionDeg:    h.WindDegree,
				RainfallMM:          h.PrecipMM,
				ChanceOfRainPercent: h.ChanceOfRain,
			})
		}
	}

	return &types.ProviderReading{Source: SourceWeatherAPI, Current: current, Forecast: forecast}, nil
}
