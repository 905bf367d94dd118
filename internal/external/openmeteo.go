package external

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"weatherrules/internal/types"
)

const openMeteoBaseURL = "https://api.open-meteo.com"

// openMeteoTimeLayout is the zone-less ISO format open-meteo returns with
// timezone=UTC.
const openMeteoTimeLayout = "2006-01-02T15:04"

const openMeteoHourly = "temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m,precipitation"

// OpenMeteoClient reads /v1/forecast. It is the only provider that reports
// shortwave radiation, stored as solar_radiation_wm2 on the current row.
type OpenMeteoClient struct {
	base *BaseClient
	opts ProviderOptions
}

func NewOpenMeteoClient(base *BaseClient, opts ProviderOptions) *OpenMeteoClient {
	return &OpenMeteoClient{base: base, opts: opts.withDefaults(openMeteoBaseURL)}
}

func (c *OpenMeteoClient) Name() string { return SourceOpenMeteo }

type omResponse struct {
	Current struct {
		Time               string   `json:"time"`
		Temperature2m      *float64 `json:"temperature_2m"`
		RelativeHumidity2m *float64 `json:"relative_humidity_2m"`
		WindSpeed10m       *float64 `json:"wind_speed_10m"`
		WindDirection10m   *float64 `json:"wind_direction_10m"`
		Precipitation      *float64 `json:"precipitation"`
		ShortwaveRadiation *float64 `json:"shortwave_radiation"`
	} `json:"current"`
	Hourly struct {
		Time               []string   `json:"time"`
		Temperature2m      []*float64 `json:"temperature_2m"`
		RelativeHumidity2m []*float64 `json:"relative_humidity_2m"`
		WindSpeed10m       []*float64 `json:"wind_speed_10m"`
		WindDirection10m   []*float64 `json:"wind_direction_10m"`
		Precipitation      []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

func valueAt(values []*float64, i int) *float64 {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func (c *OpenMeteoClient) Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error) {
	now := c.opts.Clock.Now()

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	q.Set("current", openMeteoHourly+",shortwave_radiation")
	q.Set("hourly", openMeteoHourly)
	q.Set("forecast_days", strconv.Itoa(c.opts.ForecastDays))
	q.Set("wind_speed_unit", "ms")
	q.Set("timezone", "UTC")

	var resp omResponse
	if err := c.base.GetJSON(ctx, c.opts.BaseURL+"/v1/forecast?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("openmeteo: %w", err)
	}

	cur := resp.Current
	curTime := now
	if cur.Time != "" {
		t, err := time.ParseInLocation(openMeteoTimeLayout, cur.Time, time.UTC)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamBadPayload, fmt.Sprintf("openmeteo: bad time %q", cur.Time), err)
		}
		curTime = t
	}
	current := &types.Observation{
		FarmID:            loc.FarmID,
		Source:            SourceOpenMeteo,
		Time:              curTime,
		TemperatureC:      cur.Temperature2m,
		HumidityPercent:   cur.RelativeHumidity2m,
		WindSpeedMPS:      cur.WindSpeed10m,
		WindDirectionDeg:  cur.WindDirection10m,
		RainfallMM:        cur.Precipitation,
		SolarRadiationWM2: cur.ShortwaveRadiation,
	}

	h := resp.Hourly
	limit := c.opts.horizon(now)
	forecast := make([]types.Observation, 0, len(h.Time))
	for i, raw := range h.Time {
		t, err := time.ParseInLocation(openMeteoTimeLayout, raw, time.UTC)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamBadPayload, fmt.Sprintf("openmeteo: bad hourly time %q", raw), err)
		}
		if t.After(limit) {
			break
		}
		forecast = append(forecast, types.Observation{
			FarmID:           loc.FarmID,
			Source:           SourceOpenMeteo,
			Time:             t,
			TemperatureC:     valueAt(h.Temperature2m, i),
			HumidityPercent:  valueAt(h.RelativeHumidity2m, i),
			WindSpeedMPS:     valueAt(h.WindSpeed10m, i),
			WindDirectionDeg: valueAt(h.WindDirection10m, i),
			RainfallMM:       valueAt(h.Precipitation, i),
		})
	}

	return &types.ProviderReading{Source: SourceOpenMeteo, Current: current, Forecast: forecast}, nil
}
