package external

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"weatherrules/internal/types"
)

const yrNoBaseURL = "https://api.met.no"

// YrNoClient reads the MET Norway compact locationforecast. The API rejects
// requests without an identifying User-Agent, which BaseClient sets.
type YrNoClient struct {
	base *BaseClient
	opts ProviderOptions
}

func NewYrNoClient(base *BaseClient, opts ProviderOptions) *YrNoClient {
	return &YrNoClient{base: base, opts: opts.withDefaults(yrNoBaseURL)}
}

func (c *YrNoClient) Name() string { return SourceYrNo }

type yrDetails struct {
	AirTemperature    *float64 `json:"air_temperature"`
	RelativeHumidity  *float64 `json:"relative_humidity"`
	WindSpeed         *float64 `json:"wind_speed"`
	WindFromDirection *float64 `json:"wind_from_direction"`
}

type yrResponse struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details yrDetails `json:"details"`
				} `json:"instant"`
				Next1Hours *struct {
					Details struct {
						PrecipitationAmount *float64 `json:"precipitation_amount"`
					} `json:"details"`
				} `json:"next_1_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// Fetch takes the first timeseries entry as current conditions with zero
// rainfall, and the hourly entries inside the horizon as the forecast.
func (c *YrNoClient) Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error) {
	now := c.opts.Clock.Now()

	// met.no asks clients to send at most four decimals.
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(loc.Lon, 'f', 4, 64))

	var resp yrResponse
	if err := c.base.GetJSON(ctx, c.opts.BaseURL+"/weatherapi/locationforecast/2.0/compact?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("yrno: %w", err)
	}
	series := resp.Properties.Timeseries
	if len(series) == 0 {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadPayload, "yrno: empty timeseries", nil)
	}

	first := series[0]
	d := first.Data.Instant.Details
	current := &types.Observation{
		FarmID:           loc.FarmID,
		Source:           SourceYrNo,
		Time:             first.Time.UTC(),
		TemperatureC:     d.AirTemperature,
		HumidityPercent:  d.RelativeHumidity,
		WindSpeedMPS:     d.WindSpeed,
		WindDirectionDeg: d.WindFromDirection,
		RainfallMM:       types.Float(0),
	}

	limit := c.opts.horizon(now)
	forecast := make([]types.Observation, 0, len(series))
	for _, ts := range series {
		if ts.Time.After(limit) {
			break
		}
		// Entries past the hourly range only carry 6h/12h blocks.
		if ts.Data.Next1Hours == nil {
			continue
		}
		d := ts.Data.Instant.Details
		forecast = append(forecast, types.Observation{
			FarmID:           loc.FarmID,
			Source:           SourceYrNo,
			Time:             ts.Time.UTC(),
			TemperatureC:     d.AirTemperature,
			HumidityPercent:  d.RelativeHumidity,
			WindSpeedMPS:     d.WindSpeed,
			WindDirectionDeg: d.WindFromDirection,
			RainfallMM:       ts.Data.Next1Hours.Details.PrecipitationAmount,
		})
	}

	return &types.ProviderReading{Source: SourceYrNo, Current: current, Forecast: forecast}, nil
}
