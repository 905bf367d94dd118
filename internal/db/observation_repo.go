package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"weatherrules/internal/types"
)

// queryKind enumerates the fixed set of read shapes the evaluator needs.
type queryKind int

const (
	queryLatest queryKind = iota
	queryCount
	queryTwoRecent
	queryAverage
	queryEarliest
)

// Templates use {table}, {time}, {metric}, {op} and {columns}. They are
// expanded once at init for every allow-listed identifier, so no caller
// supplied text ever reaches SQL.
var templates = map[queryKind]string{
	queryLatest: `SELECT farm_id, source, {time}, {columns}
		FROM {table}
		WHERE farm_id = $1 AND {time} > $2
		ORDER BY {time} DESC
		LIMIT 1`,
	queryCount: `SELECT COUNT(*)
		FROM {table}
		WHERE farm_id = $1 AND {metric} {op} $2 AND {time} > $3`,
	// Rows sharing a timestamp (one per provider) collapse into their mean.
	queryTwoRecent: `SELECT AVG({metric})::double precision, {time}
		FROM {table}
		WHERE farm_id = $1 AND {time} <= $2 AND {metric} IS NOT NULL
		GROUP BY {time}
		ORDER BY {time} DESC
		LIMIT 2`,
	queryAverage: `SELECT AVG({metric})::double precision
		FROM {table}
		WHERE farm_id = $1 AND {time} BETWEEN $2 AND $3`,
	queryEarliest: `SELECT {time}
		FROM {table}
		WHERE farm_id = $1 AND {metric} {op} $2 AND {time} >= $3
		ORDER BY {time} ASC
		LIMIT 1`,
}

type queryKey struct {
	table  types.Table
	kind   queryKind
	metric types.Metric
	op     types.LeafOperator
}

var compiled = compileTemplates()

// tableColumns lists the metric columns present in each table.
func tableColumns(table types.Table) []types.Metric {
	dt := types.DataTypeCurrent
	if table == types.TableForecast {
		dt = types.DataTypeForecast
	}
	var cols []types.Metric
	for _, m := range types.AllMetrics {
		if m.AvailableFor(dt) {
			cols = append(cols, m)
		}
	}
	return cols
}

func compileTemplates() map[queryKey]string {
	ops := []types.LeafOperator{
		types.OpGreaterThan, types.OpLessThan, types.OpEqual, types.OpGreaterThanEq, types.OpLessThanEq,
	}
	out := make(map[queryKey]string)
	for _, table := range []types.Table{types.TableForecast, types.TableCurrent} {
		cols := tableColumns(table)
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = string(c)
		}
		base := strings.NewReplacer(
			"{table}", string(table),
			"{time}", table.TimeColumn(),
			"{columns}", strings.Join(names, ", "),
		)
		out[queryKey{table: table, kind: queryLatest}] = base.Replace(templates[queryLatest])

		for _, m := range cols {
			withMetric := strings.NewReplacer("{metric}", string(m))
			out[queryKey{table, queryTwoRecent, m, ""}] = withMetric.Replace(base.Replace(templates[queryTwoRecent]))
			out[queryKey{table, queryAverage, m, ""}] = withMetric.Replace(base.Replace(templates[queryAverage]))
			for _, op := range ops {
				r := strings.NewReplacer("{metric}", string(m), "{op}", string(op))
				out[queryKey{table, queryCount, m, op}] = r.Replace(base.Replace(templates[queryCount]))
				out[queryKey{table, queryEarliest, m, op}] = r.Replace(base.Replace(templates[queryEarliest]))
			}
		}
	}
	return out
}

func lookupQuery(key queryKey) (string, error) {
	if sql, ok := compiled[key]; ok {
		return sql, nil
	}
	if !key.metric.IsValid() && key.kind != queryLatest {
		return "", types.NewValidationError(types.ErrCodeValidationInvalidMetric, "unknown metric %q", key.metric)
	}
	if key.op != "" && !key.op.IsComparison() {
		return "", types.NewValidationError(types.ErrCodeValidationInvalidConditions, "operator %q cannot be queried", key.op)
	}
	return "", types.NewValidationError(types.ErrCodeValidationInvalidMetric,
		"metric %q is not stored in %s", key.metric, key.table)
}

// ObservationRepository is the read gateway over the weather tables. Every
// query is scoped to one farm and bounded by a per-query timeout.
type ObservationRepository struct {
	db           DBTX
	queryTimeout time.Duration
}

// NewObservationRepository creates a repository. A zero queryTimeout leaves
// queries bounded only by the caller's context.
func NewObservationRepository(db DBTX, queryTimeout time.Duration) *ObservationRepository {
	return &ObservationRepository{db: db, queryTimeout: queryTimeout}
}

func (r *ObservationRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// Latest returns the most recent row for the farm whose time column is after
// since, or nil when there is none.
func (r *ObservationRepository) Latest(ctx context.Context, farmID string, table types.Table, since time.Time) (*types.Observation, error) {
	sql, err := lookupQuery(queryKey{table: table, kind: queryLatest})
	if err != nil {
		return nil, err
	}
	cols := tableColumns(table)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	obs := &types.Observation{}
	values := make([]*float64, len(cols))
	dest := make([]any, 0, 3+len(cols))
	dest = append(dest, &obs.FarmID, &obs.Source, &obs.Time)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := r.db.QueryRow(ctx, sql, farmID, since).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewStoreError(fmt.Sprintf("failed to load latest %s row", table), err)
	}
	for i, m := range cols {
		if values[i] != nil {
			obs.Set(m, *values[i])
		}
	}
	obs.Time = obs.Time.UTC()
	return obs, nil
}

// CountMatching counts rows where metric op value holds with the time column
// after since.
func (r *ObservationRepository) CountMatching(ctx context.Context, farmID string, table types.Table, metric types.Metric, op types.LeafOperator, value float64, since time.Time) (int64, error) {
	sql, err := lookupQuery(queryKey{table, queryCount, metric, op})
	if err != nil {
		return 0, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.db.QueryRow(ctx, sql, farmID, value, since).Scan(&n); err != nil {
		return 0, types.NewStoreError(fmt.Sprintf("failed to count %s in %s", metric, table), err)
	}
	return n, nil
}

// TwoMostRecent returns up to two samples at or before asOf, newest first.
func (r *ObservationRepository) TwoMostRecent(ctx context.Context, farmID string, table types.Table, metric types.Metric, asOf time.Time) ([]types.Sample, error) {
	sql, err := lookupQuery(queryKey{table, queryTwoRecent, metric, ""})
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, sql, farmID, asOf)
	if err != nil {
		return nil, types.NewStoreError(fmt.Sprintf("failed to read recent %s", metric), err)
	}
	defer rows.Close()

	samples := make([]types.Sample, 0, 2)
	for rows.Next() {
		var s types.Sample
		if err := rows.Scan(&s.Value, &s.Time); err != nil {
			return nil, types.NewStoreError(fmt.Sprintf("failed to scan recent %s", metric), err)
		}
		s.Time = s.Time.UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStoreError(fmt.Sprintf("failed to iterate recent %s", metric), err)
	}
	return samples, nil
}

// AverageOver returns the mean of metric between start and end inclusive, or
// nil when no row carries a value.
func (r *ObservationRepository) AverageOver(ctx context.Context, farmID string, table types.Table, metric types.Metric, start, end time.Time) (*float64, error) {
	sql, err := lookupQuery(queryKey{table, queryAverage, metric, ""})
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var avg *float64
	if err := r.db.QueryRow(ctx, sql, farmID, start, end).Scan(&avg); err != nil {
		return nil, types.NewStoreError(fmt.Sprintf("failed to average %s", metric), err)
	}
	return avg, nil
}

// EarliestMatchAfter returns the first time at or after since where metric op
// value holds, or nil when nothing matches.
func (r *ObservationRepository) EarliestMatchAfter(ctx context.Context, farmID string, table types.Table, metric types.Metric, op types.LeafOperator, value float64, since time.Time) (*time.Time, error) {
	sql, err := lookupQuery(queryKey{table, queryEarliest, metric, op})
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var at time.Time
	if err := r.db.QueryRow(ctx, sql, farmID, value, since).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewStoreError(fmt.Sprintf("failed to find earliest %s match", metric), err)
	}
	at = at.UTC()
	return &at, nil
}
