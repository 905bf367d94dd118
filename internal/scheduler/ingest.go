// Package scheduler implements the scheduled weather ingestion job.
//
// Each run polls every configured provider for every location and upserts
// the normalized readings. Pairs are independent: a failing provider or a
// failed write for one farm never prevents the others from being stored.
// The run is guarded by a database lock so overlapping schedules do not
// poll twice, and recorded in job_history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"weatherrules/internal/types"
)

// IngestJobType names the job in job_locks and job_history.
const IngestJobType = "ingest_weather"

const (
	DefaultIngestConcurrency = 8
	DefaultLockTTL           = 10 * time.Minute
)

// Run statuses written to job_history.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Fetcher is one weather provider.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, loc types.Location) (*types.ProviderReading, error)
}

// ReadingWriter persists a provider reading.
type ReadingWriter interface {
	Write(ctx context.Context, loc types.Location, reading types.ProviderReading, fetchedAt time.Time) (int, error)
}

// JobTracker guards and records runs. *db.JobRepository implements it.
type JobTracker interface {
	AcquireLock(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	StartRun(ctx context.Context, jobType string) (int64, error)
	FinishRun(ctx context.Context, id int64, status string, items int, summary string) error
}

// IngestMetrics receives per-run counters.
type IngestMetrics interface {
	RecordIngest(ctx context.Context, succeeded, failed int)
}

// IngestReport summarizes one run. Errors hold one entry per failed pair,
// formatted as "<source> for <farm_id>: <error>".
type IngestReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Pairs      int       `json:"pairs"`
	Succeeded  int       `json:"succeeded"`
	Rows       int       `json:"rows"`
	Errors     []string  `json:"errors,omitempty"`
	// Skipped is set when another worker holds the lock.
	Skipped bool `json:"skipped,omitempty"`
}

// Failed reports whether any pair failed.
func (r *IngestReport) Failed() bool {
	return len(r.Errors) > 0
}

// Status maps the report onto a job_history status.
func (r *IngestReport) Status() string {
	switch {
	case len(r.Errors) == 0:
		return StatusSuccess
	case r.Succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// IngestorConfig holds the dependencies of an Ingestor.
type IngestorConfig struct {
	Providers []Fetcher
	Locations []types.Location
	Writer    ReadingWriter
	// Jobs is optional; without it runs are neither locked nor recorded.
	Jobs        JobTracker
	Metrics     IngestMetrics
	Concurrency int
	LockTTL     time.Duration
	WorkerID    string
	Clock       types.Clock
	Logger      *slog.Logger
}

// Ingestor runs the ingestion job.
type Ingestor struct {
	providers   []Fetcher
	locations   []types.Location
	writer      ReadingWriter
	jobs        JobTracker
	metrics     IngestMetrics
	concurrency int
	lockTTL     time.Duration
	workerID    string
	clock       types.Clock
	logger      *slog.Logger
}

func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultIngestConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	return &Ingestor{
		providers:   cfg.Providers,
		locations:   cfg.Locations,
		writer:      cfg.Writer,
		jobs:        cfg.Jobs,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		lockTTL:     cfg.LockTTL,
		workerID:    cfg.WorkerID,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

// Run polls every (location, provider) pair. Pair failures are collected in
// the report and do not make Run return an error; only lock and job_history
// failures do.
func (i *Ingestor) Run(ctx context.Context) (*IngestReport, error) {
	report := &IngestReport{StartedAt: i.clock.Now()}

	var runID int64
	if i.jobs != nil {
		ok, err := i.jobs.AcquireLock(ctx, IngestJobType, i.workerID, i.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("scheduler: acquire lock: %w", err)
		}
		if !ok {
			i.logger.InfoContext(ctx, "ingestion already running elsewhere, skipping", "worker_id", i.workerID)
			report.Skipped = true
			report.FinishedAt = i.clock.Now()
			return report, nil
		}
		runID, err = i.jobs.StartRun(ctx, IngestJobType)
		if err != nil {
			return nil, fmt.Errorf("scheduler: start run: %w", err)
		}
	}

	i.ingest(ctx, report)
	report.FinishedAt = i.clock.Now()

	i.logger.InfoContext(ctx, "ingestion run complete",
		"pairs", report.Pairs,
		"succeeded", report.Succeeded,
		"rows", report.Rows,
		"failures", len(report.Errors),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	if i.metrics != nil {
		i.metrics.RecordIngest(ctx, report.Succeeded, len(report.Errors))
	}

	if i.jobs != nil {
		summary := ""
		if report.Failed() {
			summary = fmt.Sprintf("%d of %d pairs failed; first: %s", len(report.Errors), report.Pairs, report.Errors[0])
		}
		// The run outcome is recorded even when the invocation context is done.
		if err := i.jobs.FinishRun(context.WithoutCancel(ctx), runID, report.Status(), report.Rows, summary); err != nil {
			return report, fmt.Errorf("scheduler: finish run: %w", err)
		}
	}
	return report, nil
}

func (i *Ingestor) ingest(ctx context.Context, report *IngestReport) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for _, loc := range i.locations {
		for _, p := range i.providers {
			report.Pairs++
			g.Go(func() error {
				rows, err := i.ingestPair(gctx, p, loc)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("%s for %s: %v", p.Name(), loc.FarmID, err))
					return nil
				}
				report.Succeeded++
				report.Rows += rows
				return nil
			})
		}
	}
	_ = g.Wait()
	sort.Strings(report.Errors)
}

func (i *Ingestor) ingestPair(ctx context.Context, p Fetcher, loc types.Location) (int, error) {
	logger := i.logger.With("source", p.Name(), "farm_id", loc.FarmID)

	reading, err := p.Fetch(ctx, loc)
	if err != nil {
		logger.ErrorContext(ctx, "provider fetch failed", "error", err)
		return 0, err
	}
	if reading.Source == "" {
		reading.Source = p.Name()
	}

	rows, err := i.writer.Write(ctx, loc, *reading, i.clock.Now())
	if err != nil {
		logger.ErrorContext(ctx, "failed to store reading", "error", err)
		return 0, err
	}
	logger.InfoContext(ctx, "reading stored", "rows", rows, "forecast_rows", len(reading.Forecast))
	return rows, nil
}
