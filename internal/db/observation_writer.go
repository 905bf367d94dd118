package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"weatherrules/internal/types"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const upsertCurrentSQL = `INSERT INTO current_weather (
		source, farm_id, location, timestamp,
		temperature_c, humidity_percent, wind_speed_mps,
		wind_direction_deg, rainfall_mm, solar_radiation_wm2
	)
	VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (farm_id, source, timestamp) DO UPDATE SET
		location = EXCLUDED.location,
		temperature_c = EXCLUDED.temperature_c,
		humidity_percent = EXCLUDED.humidity_percent,
		wind_speed_mps = EXCLUDED.wind_speed_mps,
		wind_direction_deg = EXCLUDED.wind_direction_deg,
		rainfall_mm = EXCLUDED.rainfall_mm,
		solar_radiation_wm2 = EXCLUDED.solar_radiation_wm2`

const upsertForecastSQL = `INSERT INTO forecast_weather (
		source, farm_id, location, forecast_for, fetched_at,
		temperature_c, humidity_percent, wind_speed_mps,
		wind_direction_deg, rainfall_mm, chance_of_rain_percent
	)
	VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326), $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (farm_id, source, forecast_for) DO UPDATE SET
		location = EXCLUDED.location,
		fetched_at = EXCLUDED.fetched_at,
		temperature_c = EXCLUDED.temperature_c,
		humidity_percent = EXCLUDED.humidity_percent,
		wind_speed_mps = EXCLUDED.wind_speed_mps,
		wind_direction_deg = EXCLUDED.wind_direction_deg,
		rainfall_mm = EXCLUDED.rainfall_mm,
		chance_of_rain_percent = EXCLUDED.chance_of_rain_percent`

// ObservationWriter upserts provider readings. Each reading is written in
// its own transaction so one bad pair never rolls back another.
type ObservationWriter struct {
	db TxBeginner
}

func NewObservationWriter(db TxBeginner) *ObservationWriter {
	return &ObservationWriter{db: db}
}

// Write stores the current row (stamped fetchedAt) and every forecast row
// of reading for loc. It returns the number of rows upserted.
func (w *ObservationWriter) Write(ctx context.Context, loc types.Location, reading types.ProviderReading, fetchedAt time.Time) (int, error) {
	batch := &pgx.Batch{}
	if c := reading.Current; c != nil {
		batch.Queue(upsertCurrentSQL,
			reading.Source, loc.FarmID, loc.Lon, loc.Lat, fetchedAt,
			c.Ptr(types.MetricTemperature), c.Ptr(types.MetricHumidity), c.Ptr(types.MetricWindSpeed),
			c.Ptr(types.MetricWindDirection), c.Ptr(types.MetricRainfall), c.Ptr(types.MetricSolarRadiation),
		)
	}
	for i := range reading.Forecast {
		f := &reading.Forecast[i]
		batch.Queue(upsertForecastSQL,
			reading.Source, loc.FarmID, loc.Lon, loc.Lat, f.Time, fetchedAt,
			f.Ptr(types.MetricTemperature), f.Ptr(types.MetricHumidity), f.Ptr(types.MetricWindSpeed),
			f.Ptr(types.MetricWindDirection), f.Ptr(types.MetricRainfall), f.Ptr(types.MetricChanceOfRain),
		)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	err := pgx.BeginFunc(ctx, w.db, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return 0, types.NewStoreError(
			fmt.Sprintf("failed to upsert %s readings for %s", reading.Source, loc.FarmID), err)
	}
	return batch.Len(), nil
}
