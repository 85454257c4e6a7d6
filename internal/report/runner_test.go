package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lox/biogasreport/internal/analysis"
	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/models"
	"github.com/lox/biogasreport/internal/timeseries"
)

// plant generates two hours of 5 minute export rows. SEQSTATE trips for
// 15 minutes from 01:00, the CO2 liquefaction runs for the first half hour
// and stands by afterwards.
var plant = map[string]func(i int) float64{
	"SEQSTATE": func(i int) float64 {
		if i >= 12 && i < 15 {
			return 90
		}
		return 62
	},
	"SEQSTATE_CO2": func(i int) float64 {
		if i < 6 {
			return 20
		}
		return 1
	},
	"RHA10CF001":          func(int) float64 { return 120 },
	"RHH15_CH4":           func(int) float64 { return 60 },
	"NormalFlow":          func(int) float64 { return 72 },
	"RHH10_CH4":           func(int) float64 { return 97 },
	"RHM50AN001":          func(int) float64 { return 80 },
	"RHM50AA106":          func(int) float64 { return 20 },
	"Methane_slip":        func(int) float64 { return 2 },
	"Methane_slip_factor": func(int) float64 { return 50 },
	"H2S_in":              func(int) float64 { return 100 },
	"Energy":              func(i int) float64 { return float64(10 * i) },
	"Energy_CO2_2 (kWh)":  func(i int) float64 { return float64(1000 + 2*i) },
}

func exportCSV(t *testing.T, rows int, override map[string]func(int) float64, drop ...string) string {
	t.Helper()
	cols := map[string]func(int) float64{}
	for k, v := range plant {
		cols[k] = v
	}
	for k, v := range override {
		cols[k] = v
	}
	for _, d := range drop {
		delete(cols, d)
	}
	names := make([]string, 0, len(cols))
	for k := range cols {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("time," + strings.Join(names, ",") + "\n")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		b.WriteString(start.Add(time.Duration(i) * 5 * time.Minute).Format("2006-01-02 15:04:05"))
		for _, n := range names {
			fmt.Fprintf(&b, ",%g", cols[n](i))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func runnerFor(t *testing.T, id string) *Runner {
	t.Helper()
	reg, err := installation.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	rec, err := reg.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	r, err := NewRunner(rec)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	r.now = func() time.Time { return time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC) }
	return r
}

func assertScalar(t *testing.T, m *models.Metrics, name string, want float64) {
	t.Helper()
	s, ok := m.Scalar(name)
	if !ok {
		t.Fatalf("scalar %s missing", name)
	}
	got, ok := s.Float()
	if !ok {
		t.Fatalf("scalar %s = %+v, want %v", name, s, want)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("scalar %s = %v, want %v", name, got, want)
	}
}

func TestRunDommel(t *testing.T) {
	r := runnerFor(t, "B0933")
	res, err := r.Run(strings.NewReader(exportCSV(t, 24, nil)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := res.Metrics

	if m.Period != "March-2024" || m.PeriodKey != "2024-03" {
		t.Errorf("period = %s/%s", m.Period, m.PeriodKey)
	}
	if m.RawSamples != 24 || m.GridSamples != 24 {
		t.Errorf("samples = %d raw, %d grid", m.RawSamples, m.GridSamples)
	}
	if m.ReportName() != "B0933 - Dommel - maandrapportage bedrijfsvoering 2024-03" {
		t.Errorf("ReportName = %q", m.ReportName())
	}

	// 21 producing samples at 12 per hour.
	assertScalar(t, m, models.MetricBiogasVolume, 21*120.0/12)
	assertScalar(t, m, models.MetricBiogasCH4, 60)
	assertScalar(t, m, models.MetricBiomethaneVolume, 21*72.0/12)
	assertScalar(t, m, models.MetricBiomethaneCH4, 97)
	assertScalar(t, m, models.MetricCapacity, 80)
	assertScalar(t, m, models.MetricMethaneSlip, 2.0/100*60/100*analysis.MethaneDensity)
	assertScalar(t, m, models.MetricMethaneSlipActive, 1)
	assertScalar(t, m, models.MetricH2SMean, 100)
	assertScalar(t, m, models.MetricH2SWeightedBiogas, 100.0/17*210)

	process := m.Availability["process"]
	if process.Trip != 0 || process.Standby != 0 || process.Running != 2 {
		t.Errorf("process availability = %+v", process)
	}
	co2 := m.Availability["co2liq"]
	if co2.Trip != 1 || co2.Standby != 0 || co2.Running != 1 {
		t.Errorf("co2liq availability = %+v", co2)
	}
	if v, _ := co2.Availability().Float(); v != 50 {
		t.Errorf("co2liq availability = %v%%, want 50", v)
	}

	total := m.Energy["total"]
	if total.Total != 230 || total.Resets != 0 {
		t.Errorf("energy total = %+v", total)
	}
	if v, ok := total.Specific.Float(); !ok || math.Abs(v-1000*230.0/210) > 1e-9 {
		t.Errorf("specific energy = %+v", total.Specific)
	}
	if m.Energy["co2liq"].Total != 46 {
		t.Errorf("energy co2liq = %+v", m.Energy["co2liq"])
	}

	eps := m.Episodes["process"]
	if len(eps) != 1 {
		t.Fatalf("process episodes = %+v", eps)
	}
	if eps[0].DurationHours() != 0.25 || eps[0].Unterminated {
		t.Errorf("episode = %+v", eps[0])
	}
	if got := m.Episodes["co2liq"]; got == nil || len(got) != 0 {
		t.Errorf("co2liq episodes = %+v, want empty", got)
	}

	if len(m.QualityFlags) != 0 || len(m.Warnings) != 0 {
		t.Errorf("flags = %v, warnings = %v", m.QualityFlags, m.Warnings)
	}
}

func TestRunNotApplicableSlip(t *testing.T) {
	r := runnerFor(t, "H4187")
	res, err := r.Run(strings.NewReader(exportCSV(t, 24, nil)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s, _ := res.Metrics.Scalar(models.MetricMethaneSlip)
	if s.State != models.ScalarNotApplicable {
		t.Fatalf("slip = %+v, want not applicable", s)
	}

	b, err := json.Marshal(res.Metrics)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"methane_slip":"n.v.t."`) {
		t.Errorf("json does not carry n.v.t. slip: %s", b)
	}
}

func TestRunNeverProducing(t *testing.T) {
	r := runnerFor(t, "B0175")
	csv := exportCSV(t, 24, map[string]func(int) float64{
		"SEQSTATE": func(int) float64 { return 1 },
	})
	res, err := r.Run(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := res.Metrics

	assertScalar(t, m, models.MetricBiogasVolume, 0)
	for _, name := range []string{models.MetricBiogasCH4, models.MetricCapacity, models.MetricMethaneSlip} {
		s, _ := m.Scalar(name)
		if s.State != models.ScalarUndefined || s.Reason == "" {
			t.Errorf("%s = %+v, want undefined with reason", name, s)
		}
	}
	if len(m.Warnings) == 0 {
		t.Error("expected warnings for undefined metrics")
	}
	if !contains(m.QualityFlags, ingest.FlagNeverProducing+":SEQSTATE") {
		t.Errorf("flags = %v", m.QualityFlags)
	}
	if m.Availability["process"].Standby != 2 {
		t.Errorf("availability = %+v", m.Availability["process"])
	}

	if _, err := json.Marshal(m); err != nil {
		t.Fatalf("metrics must encode without NaN: %v", err)
	}
}

func TestRunWeightedSlipDegenerate(t *testing.T) {
	r := runnerFor(t, "B0933")
	// CO2 liquefaction always active: no sample qualifies for the weighted slip.
	csv := exportCSV(t, 24, map[string]func(int) float64{
		"SEQSTATE_CO2": func(int) float64 { return 20 },
	})
	res, err := r.Run(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	s, _ := res.Metrics.Scalar(models.MetricMethaneSlip)
	if s.State != models.ScalarUndefined {
		t.Errorf("slip = %+v, want undefined", s)
	}
	assertScalar(t, res.Metrics, models.MetricMethaneSlipActive, 1)
}

func TestRunCounterReset(t *testing.T) {
	r := runnerFor(t, "B0565")
	csv := exportCSV(t, 24, map[string]func(int) float64{
		"CO2LIQ":     func(int) float64 { return 1 },
		"Heatpump":   func(int) float64 { return 0 },
		"Energy_HP":  func(i int) float64 { return float64(i) },
		"Energy_CO2": func(i int) float64 { return float64(i) },
		// Counter restarts from zero at sample 10.
		"Energy": func(i int) float64 {
			if i < 10 {
				return float64(100 + i)
			}
			return float64(i - 10)
		},
	})
	res, err := r.Run(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	e := res.Metrics.Energy["total"]
	if e.Resets != 1 || e.Total != 9+13 {
		t.Errorf("energy = %+v, want 22 with one reset", e)
	}
	if !contains(res.Metrics.QualityFlags, ingest.FlagCounterReset+":Energy") {
		t.Errorf("flags = %v", res.Metrics.QualityFlags)
	}
	if res.Metrics.Availability["co2liq"].Standby != 2 {
		t.Errorf("co2liq = %+v", res.Metrics.Availability["co2liq"])
	}
}

func TestRunMissingChannel(t *testing.T) {
	r := runnerFor(t, "B0933")
	_, err := r.Run(strings.NewReader(exportCSV(t, 24, nil, "H2S_in")))
	if !errors.Is(err, timeseries.ErrMissingChannel) {
		t.Fatalf("err = %v, want ErrMissingChannel", err)
	}
	if !strings.Contains(err.Error(), "H2S_in") {
		t.Errorf("err = %v, should name the channel", err)
	}
}

func TestRunBadInput(t *testing.T) {
	r := runnerFor(t, "B0175")
	for name, in := range map[string]string{
		"empty":     "",
		"no rows":   "time,SEQSTATE\n",
		"bad time":  "time,SEQSTATE\nyesterday,62\n",
		"bad value": "time,SEQSTATE\n2024-03-01 00:00:00,on\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := r.Run(strings.NewReader(in)); !errors.Is(err, timeseries.ErrDataFormat) {
				t.Errorf("err = %v, want ErrDataFormat", err)
			}
		})
	}
}

func TestNewRunnerRejectsInvalidRecipe(t *testing.T) {
	if _, err := NewRunner(installation.Recipe{ID: "X"}); err == nil {
		t.Error("expected error for recipe without name")
	}
	rec := installation.Recipe{
		ID:       "X",
		Name:     "X - Test",
		Timezone: "Mars/Olympus",
		Status:   installation.StatusBinding{Channel: "SEQSTATE", Producing: 62},
	}
	if _, err := NewRunner(rec); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
