package store

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/biogasreport/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	store := New(db, loc)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testMetrics(periodKey string) *models.Metrics {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Metrics{
		InstallationID:   "B0933",
		InstallationName: "B0933 - Dommel",
		Period:           "March-2024",
		PeriodKey:        periodKey,
		Start:            start,
		End:              start.Add(2 * time.Hour),
		RawSamples:       24,
		GridSamples:      24,
		Scalars: map[string]models.Scalar{
			models.MetricBiogasVolume: models.Value(210),
			models.MetricMethaneSlip:  models.NotApplicable(),
			models.MetricCapacity:     models.Undefined("no samples selected"),
		},
		Availability: map[string]models.AvailabilityBuckets{
			"process": {Channel: "SEQSTATE", Mode: "process", Running: 2},
		},
		Energy: map[string]models.EnergyTotal{
			"total": {Channel: "Energy", Total: 230, Specific: models.Value(1095.2)},
		},
		Episodes: map[string][]models.Episode{
			"process": {
				{Channel: "SEQSTATE", Start: start.Add(time.Hour), End: start.Add(75 * time.Minute), Duration: 15 * time.Minute},
				{Channel: "SEQSTATE", Start: start.Add(110 * time.Minute), End: start.Add(115 * time.Minute), Duration: 5 * time.Minute, Unterminated: true},
			},
			"co2liq": {
				{Channel: "SEQSTATE_CO2", Start: start.Add(10 * time.Minute), End: start.Add(20 * time.Minute), Duration: 10 * time.Minute},
			},
		},
		QualityFlags: []string{"time_gap"},
		GeneratedAt:  time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store := setupTestStore(t)

	if err := store.SaveReport("run-1", testMetrics("2024-03")); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := store.GetReport("B0933", "2024-03")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got == nil {
		t.Fatal("GetReport returned nil")
	}
	if v, ok := got.Scalars[models.MetricBiogasVolume].Float(); !ok || v != 210 {
		t.Errorf("biogas = %+v, want 210", got.Scalars[models.MetricBiogasVolume])
	}
	if got.Scalars[models.MetricMethaneSlip].State != models.ScalarNotApplicable {
		t.Errorf("slip = %+v, want not applicable", got.Scalars[models.MetricMethaneSlip])
	}
	if got.Scalars[models.MetricCapacity].State != models.ScalarUndefined {
		t.Errorf("capacity = %+v, want undefined", got.Scalars[models.MetricCapacity])
	}
	if got.Availability["process"].Running != 2 {
		t.Errorf("availability = %+v", got.Availability)
	}
	if len(got.Episodes["process"]) != 2 {
		t.Errorf("episodes = %+v", got.Episodes)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetReport("B0933", "2024-03")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveReport_ReplacesEpisodes(t *testing.T) {
	store := setupTestStore(t)

	m := testMetrics("2024-03")
	if err := store.SaveReport("run-1", m); err != nil {
		t.Fatal(err)
	}
	m.Episodes["process"] = m.Episodes["process"][:1]
	if err := store.SaveReport("run-2", m); err != nil {
		t.Fatal(err)
	}

	eps, err := store.GetEpisodes("B0933", "2024-03", "process")
	if err != nil {
		t.Fatalf("GetEpisodes: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("len(episodes) = %d, want 1", len(eps))
	}
	if eps[0].Duration != 15*time.Minute {
		t.Errorf("Duration = %v, want 15m", eps[0].Duration)
	}

	all, err := store.GetEpisodes("B0933", "2024-03", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Channel != "SEQSTATE_CO2" {
		t.Errorf("all episodes = %+v", all)
	}

	reports, err := store.ListReports("")
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || reports[0].RunID != "run-2" {
		t.Errorf("reports = %+v", reports)
	}
}

func TestListReports_Order(t *testing.T) {
	store := setupTestStore(t)

	for _, key := range []string{"2024-01", "2024-03", "2024-02"} {
		if err := store.SaveReport("run-"+key, testMetrics(key)); err != nil {
			t.Fatal(err)
		}
	}
	other := testMetrics("2024-02")
	other.InstallationID = "H4187"
	other.InstallationName = "H4187 - Twence"
	if err := store.SaveReport("run-twence", other); err != nil {
		t.Fatal(err)
	}

	reports, err := store.ListReports("B0933")
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	var keys []string
	for _, r := range reports {
		keys = append(keys, r.PeriodKey)
	}
	if len(keys) != 3 || keys[0] != "2024-03" || keys[2] != "2024-01" {
		t.Errorf("period keys = %v, want newest first", keys)
	}
	if !reports[0].QualityFlags.Valid || reports[0].QualityFlags.String != `["time_gap"]` {
		t.Errorf("QualityFlags = %+v", reports[0].QualityFlags)
	}
	if reports[0].GeneratedAt.Location().String() != "Europe/Amsterdam" {
		t.Errorf("GeneratedAt location = %v", reports[0].GeneratedAt.Location())
	}

	all, err := store.ListReports("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}
}

func TestReportRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartReportRun("run-1", "B0933", "ftp", "B0933_2024-03.csv")
	if err != nil {
		t.Fatalf("StartReportRun: %v", err)
	}
	run.PeriodKey = sql.NullString{String: "2024-03", Valid: true}
	run.RawSamples = sql.NullInt64{Int64: 8928, Valid: true}
	run.Success = true
	if err := store.CompleteReportRun(run); err != nil {
		t.Fatalf("CompleteReportRun: %v", err)
	}

	got, err := store.GetReportRun("run-1")
	if err != nil {
		t.Fatalf("GetReportRun: %v", err)
	}
	if got == nil || !got.Success || !got.FinishedAt.Valid {
		t.Fatalf("run = %+v", got)
	}
	if got.SourceName.String != "B0933_2024-03.csv" || got.RawSamples.Int64 != 8928 {
		t.Errorf("run = %+v", got)
	}

	health, err := store.GetRunHealth(1)
	if err != nil {
		t.Fatalf("GetRunHealth: %v", err)
	}
	if len(health) != 1 || health[0].InstallationID != "B0933" || health[0].SuccessRuns != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestReportRun_GetRecentErrors(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartReportRun("run-ok", "B0175", "file", "")
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	if err := store.CompleteReportRun(ok); err != nil {
		t.Fatal(err)
	}

	failed, err := store.StartReportRun("run-failed", "B0933", "file", "march.csv")
	if err != nil {
		t.Fatal(err)
	}
	failed.ErrorMessage = sql.NullString{String: "missing channel: H2S_in", Valid: true}
	if err := store.CompleteReportRun(failed); err != nil {
		t.Fatal(err)
	}

	errs, err := store.GetRecentRunErrors(10)
	if err != nil {
		t.Fatalf("GetRecentRunErrors: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorMessage.String != "missing channel: H2S_in" {
		t.Errorf("errors = %+v", errs)
	}

	runs, err := store.GetRecentRuns("B0175", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-ok" || runs[0].SourceName.Valid {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRawInput_Dedup(t *testing.T) {
	store := setupTestStore(t)

	payload := []byte("time,SEQSTATE\n2024-03-01 00:00:00,62\n")
	id1, err := store.StoreRawInput("B0933", "ftp", "march.csv", payload)
	if err != nil {
		t.Fatalf("StoreRawInput: %v", err)
	}
	id2, err := store.StoreRawInput("B0933", "file", "copy.csv", payload)
	if err != nil {
		t.Fatalf("StoreRawInput again: %v", err)
	}
	if id1 == 0 || id1 != id2 {
		t.Errorf("ids = %d, %d, want the same non-zero id", id1, id2)
	}

	got, err := store.GetRawInput(id1)
	if err != nil {
		t.Fatalf("GetRawInput: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q", got)
	}

	stats, err := store.GetRawInputStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalCount != 1 || stats.TotalSizeBytes != int64(len(payload)) || stats.CountByInstallation["B0933"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	deleted, err := store.CleanupOldRawInputs(30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 for a fresh archive", deleted)
	}
}

func TestHasProcessedInput(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("time,SEQSTATE\n2024-03-01 00:00:00,62\n")

	check := func(want bool) {
		t.Helper()
		got, err := store.HasProcessedInput(payload)
		if err != nil {
			t.Fatalf("HasProcessedInput: %v", err)
		}
		if got != want {
			t.Errorf("HasProcessedInput = %v, want %v", got, want)
		}
	}
	check(false)

	rawID, err := store.StoreRawInput("B0933", "ftp", "march.csv", payload)
	if err != nil {
		t.Fatal(err)
	}
	failed, err := store.StartReportRun("run-failed", "B0933", "ftp", "march.csv")
	if err != nil {
		t.Fatal(err)
	}
	failed.RawInputID = sql.NullInt64{Int64: rawID, Valid: true}
	failed.ErrorMessage = sql.NullString{String: "save report: disk full", Valid: true}
	if err := store.CompleteReportRun(failed); err != nil {
		t.Fatal(err)
	}
	check(false)

	ok, err := store.StartReportRun("run-ok", "B0933", "ftp", "march.csv")
	if err != nil {
		t.Fatal(err)
	}
	ok.RawInputID = sql.NullInt64{Int64: rawID, Valid: true}
	ok.Success = true
	if err := store.CompleteReportRun(ok); err != nil {
		t.Fatal(err)
	}
	check(true)
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}
}
