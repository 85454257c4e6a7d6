package report

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/models"
	"github.com/lox/biogasreport/internal/store"
)

// Store is the persistence a Job records runs and reports in.
type Store interface {
	StartReportRun(id, installationID, source, sourceName string) (*store.ReportRun, error)
	CompleteReportRun(run *store.ReportRun) error
	StoreRawInput(installationID, source, name string, payload []byte) (int64, error)
	HasProcessedInput(payload []byte) (bool, error)
	SaveReport(runID string, m *models.Metrics) error
}

// Source lists and retrieves export files.
type Source interface {
	Latest(ctx context.Context, installationID string) (ingest.Export, error)
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Job runs reports and records them: the raw export is archived, the run is
// audited and the resulting metrics replace any earlier report for the same
// installation and month.
type Job struct {
	store Store
}

func NewJob(st Store) *Job {
	return &Job{store: st}
}

// Execute computes and stores the report for one export.
func (j *Job) Execute(runner *Runner, source, name string, payload []byte) (*Result, error) {
	rec := runner.Recipe()
	run, err := j.store.StartReportRun(uuid.NewString(), rec.ID, source, name)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	res, err := j.execute(runner, run, payload)
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}
	if cerr := j.store.CompleteReportRun(run); cerr != nil {
		log.Printf("report: complete run %s: %v", run.ID, cerr)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (j *Job) execute(runner *Runner, run *store.ReportRun, payload []byte) (*Result, error) {
	rawID, err := j.store.StoreRawInput(run.InstallationID, run.Source, run.SourceName.String, payload)
	if err != nil {
		return nil, fmt.Errorf("archive input: %w", err)
	}
	run.RawInputID = sql.NullInt64{Int64: rawID, Valid: true}

	res, err := runner.Run(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	res.ID = run.ID

	m := res.Metrics
	run.PeriodKey = sql.NullString{String: m.PeriodKey, Valid: true}
	run.RawSamples = sql.NullInt64{Int64: int64(m.RawSamples), Valid: true}
	run.GridSamples = sql.NullInt64{Int64: int64(m.GridSamples), Valid: true}
	run.Warnings = sql.NullInt64{Int64: int64(len(m.Warnings)), Valid: true}

	if err := j.store.SaveReport(run.ID, m); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	run.Success = true
	return res, nil
}

// FetchLatest retrieves the newest export of an installation and reports on
// it. An export that already produced a stored report is skipped and
// returns nil; one whose earlier runs failed is computed again.
func (j *Job) FetchLatest(ctx context.Context, src Source, runner *Runner) (*Result, error) {
	rec := runner.Recipe()
	export, err := src.Latest(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	payload, err := src.Fetch(ctx, export.Name)
	if err != nil {
		return nil, err
	}
	known, err := j.store.HasProcessedInput(payload)
	if err != nil {
		return nil, err
	}
	if known {
		log.Printf("report: %s: %s already processed", rec.ID, export.Name)
		return nil, nil
	}
	return j.Execute(runner, "ftp", export.Name, payload)
}

// Poll fetches the latest export of every installation now and then at
// each interval until ctx is done.
func (j *Job) Poll(ctx context.Context, src Source, recipes []installation.Recipe, interval time.Duration) {
	runners := make([]*Runner, 0, len(recipes))
	for _, rec := range recipes {
		r, err := NewRunner(rec)
		if err != nil {
			log.Printf("report: poll: %v", err)
			continue
		}
		runners = append(runners, r)
	}

	j.pollOnce(ctx, src, runners)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("report: poll: shutting down")
			return
		case <-ticker.C:
			j.pollOnce(ctx, src, runners)
		}
	}
}

func (j *Job) pollOnce(ctx context.Context, src Source, runners []*Runner) {
	for _, r := range runners {
		if ctx.Err() != nil {
			return
		}
		res, err := j.FetchLatest(ctx, src, r)
		if err != nil {
			log.Printf("report: poll %s: %v", r.Recipe().ID, err)
			continue
		}
		if res != nil {
			log.Printf("report: poll %s: stored %s", r.Recipe().ID, res.Metrics.ReportName())
		}
	}
}
