package report

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, time.UTC)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

type fakeSource struct {
	files   map[string]string
	fetched int
}

func (f *fakeSource) Latest(ctx context.Context, installationID string) (ingest.Export, error) {
	for name := range f.files {
		if strings.HasPrefix(name, installationID) {
			return ingest.Export{Name: name}, nil
		}
	}
	return ingest.Export{}, errors.New("no export")
}

func (f *fakeSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	f.fetched++
	return []byte(f.files[name]), nil
}

func TestJobExecute(t *testing.T) {
	st := setupTestStore(t)
	job := NewJob(st)

	res, err := job.Execute(runnerFor(t, "B0933"), "file", "march.csv", []byte(exportCSV(t, 24, nil)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ID == "" {
		t.Fatal("run id is empty")
	}

	run, err := st.GetReportRun(res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || !run.Success || run.PeriodKey.String != "2024-03" || !run.RawInputID.Valid {
		t.Errorf("run = %+v", run)
	}

	m, err := st.GetReport("B0933", "2024-03")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("report not stored")
	}
	if v, ok := m.Scalars["biogas"].Float(); !ok || v != 210 {
		t.Errorf("stored biogas = %+v", m.Scalars["biogas"])
	}
	eps, err := st.GetEpisodes("B0933", "2024-03", MainSubsystem)
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 {
		t.Errorf("stored episodes = %+v", eps)
	}
}

func TestJobExecute_Failure(t *testing.T) {
	st := setupTestStore(t)
	job := NewJob(st)

	_, err := job.Execute(runnerFor(t, "B0933"), "file", "broken.csv", []byte(exportCSV(t, 24, nil, "H2S_in")))
	if err == nil {
		t.Fatal("expected error")
	}

	failed, err := st.GetRecentRunErrors(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || !strings.Contains(failed[0].ErrorMessage.String, "H2S_in") {
		t.Errorf("failed runs = %+v", failed)
	}
	if m, _ := st.GetReport("B0933", "2024-03"); m != nil {
		t.Error("failed run must not store a report")
	}
}

func TestJobFetchLatest_SkipsKnownExport(t *testing.T) {
	st := setupTestStore(t)
	job := NewJob(st)
	src := &fakeSource{files: map[string]string{
		"H4187_Monthlyreport_data_2024-03.csv": exportCSV(t, 24, nil),
	}}
	runner := runnerFor(t, "H4187")

	res, err := job.FetchLatest(context.Background(), src, runner)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if res == nil {
		t.Fatal("expected a report on first fetch")
	}

	res, err = job.FetchLatest(context.Background(), src, runner)
	if err != nil {
		t.Fatalf("FetchLatest again: %v", err)
	}
	if res != nil {
		t.Error("expected known export to be skipped")
	}
	if src.fetched != 2 {
		t.Errorf("fetched = %d, want 2", src.fetched)
	}

	runs, err := st.GetRecentRuns("H4187", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Source != "ftp" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestJobFetchLatest_RetriesFailedExport(t *testing.T) {
	st := setupTestStore(t)
	job := NewJob(st)
	src := &fakeSource{files: map[string]string{
		"B0933_2024-03.csv": exportCSV(t, 24, nil),
	}}

	// a recipe naming a channel the export lacks fails the first attempt
	rec := runnerFor(t, "B0933").Recipe()
	h2s := *rec.H2S
	h2s.Channel = "H2S_missing"
	rec.H2S = &h2s
	broken, err := NewRunner(rec)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := job.FetchLatest(context.Background(), src, broken); err == nil {
		t.Fatal("expected the first attempt to fail")
	}

	res, err := job.FetchLatest(context.Background(), src, runnerFor(t, "B0933"))
	if err != nil {
		t.Fatalf("FetchLatest after failure: %v", err)
	}
	if res == nil {
		t.Fatal("export with only failed runs was skipped")
	}
	if m, _ := st.GetReport("B0933", "2024-03"); m == nil {
		t.Error("retry did not store the report")
	}

	runs, err := st.GetRecentRuns("B0933", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RawInputID != runs[1].RawInputID {
		t.Errorf("runs = %+v, want two runs on one archived input", runs)
	}
}

func TestJobPoll_StopsOnCancel(t *testing.T) {
	st := setupTestStore(t)
	job := NewJob(st)
	src := &fakeSource{files: map[string]string{
		"B0175_2024-03.csv": exportCSV(t, 24, nil),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Poll(ctx, src, nil, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Poll did not stop")
	}

	job.pollOnce(context.Background(), src, []*Runner{runnerFor(t, "B0175"), runnerFor(t, "H4242")})
	if m, _ := st.GetReport("B0175", "2024-03"); m == nil {
		t.Error("poll did not store the report")
	}
}
