package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// NotApplicableMarker is how a metric that does not apply to an
// installation is rendered in reports.
const NotApplicableMarker = "n.v.t."

// Scalar metric names.
const (
	MetricBiogasVolume      = "biogas"
	MetricBiogasCH4         = "biogas_ch4"
	MetricBiomethaneVolume  = "biomethane"
	MetricBiomethaneCH4     = "biomethane_ch4"
	MetricCapacity          = "capacity"
	MetricMethaneSlip       = "methane_slip"
	MetricMethaneSlipActive = "methane_slip_active"
	MetricH2SMean           = "h2s_mean"
	MetricH2SWeightedBiogas = "h2s_weighted_biogas"
)

type ScalarState string

const (
	ScalarOK            ScalarState = "ok"
	ScalarNotApplicable ScalarState = "not_applicable"
	ScalarUndefined     ScalarState = "undefined"
)

// Scalar is a computed metric value. Undefined scalars come from degenerate
// aggregates and never carry NaN or Inf.
type Scalar struct {
	Value  float64
	State  ScalarState
	Reason string
}

func Value(v float64) Scalar {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined("non-finite value")
	}
	return Scalar{Value: v, State: ScalarOK}
}

func NotApplicable() Scalar {
	return Scalar{State: ScalarNotApplicable}
}

func Undefined(reason string) Scalar {
	return Scalar{State: ScalarUndefined, Reason: reason}
}

// Float returns the value and whether it is usable.
func (s Scalar) Float() (float64, bool) {
	return s.Value, s.State == ScalarOK
}

func (s Scalar) String() string {
	switch s.State {
	case ScalarOK:
		return fmt.Sprintf("%.2f", s.Value)
	case ScalarNotApplicable:
		return NotApplicableMarker
	default:
		return "undefined"
	}
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.State {
	case ScalarOK:
		return json.Marshal(s.Value)
	case ScalarNotApplicable:
		return json.Marshal(NotApplicableMarker)
	default:
		return []byte("null"), nil
	}
}

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = Undefined("")
		return nil
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str != NotApplicableMarker {
			return fmt.Errorf("unexpected scalar marker %q", str)
		}
		*s = NotApplicable()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Value(v)
	return nil
}

// AvailabilityBuckets splits observed hours of a subsystem into trip,
// standby and running. Trip and standby are floored, running is the ceiling
// of the remainder, so the three add up to the observed hours rounded up.
type AvailabilityBuckets struct {
	Channel string `json:"channel"`
	Mode    string `json:"mode"`
	Trip    int    `json:"trip"`
	Standby int    `json:"standby"`
	Running int    `json:"running"`
}

func (a AvailabilityBuckets) Total() int {
	return a.Trip + a.Standby + a.Running
}

// Availability is the percentage of hours not spent in trip.
func (a AvailabilityBuckets) Availability() Scalar {
	total := a.Total()
	if total == 0 {
		return Undefined("no observed hours")
	}
	return Value(100 * (1 - float64(a.Trip)/float64(total)))
}

type EnergyTotal struct {
	Channel string  `json:"channel"`
	Total   float64 `json:"total"`
	Resets  int     `json:"resets"`
	// Specific is energy per 1000 Nm3 of biogas.
	Specific Scalar `json:"specific"`
}

// Metrics is the result of one report run. It is built once by the report
// pipeline and read-only afterwards.
type Metrics struct {
	InstallationID   string                         `json:"installation_id"`
	InstallationName string                         `json:"installation_name"`
	Period           string                         `json:"period"`
	PeriodKey        string                         `json:"period_key"`
	Start            time.Time                      `json:"start"`
	End              time.Time                      `json:"end"`
	RawSamples       int                            `json:"raw_samples"`
	GridSamples      int                            `json:"grid_samples"`
	Scalars          map[string]Scalar              `json:"scalars"`
	Availability     map[string]AvailabilityBuckets `json:"availability"`
	Energy           map[string]EnergyTotal         `json:"energy"`
	Episodes         map[string][]Episode           `json:"episodes"`
	QualityFlags     []string                       `json:"quality_flags,omitempty"`
	Warnings         []string                       `json:"warnings,omitempty"`
	GeneratedAt      time.Time                      `json:"generated_at"`
}

func (m *Metrics) Scalar(name string) (Scalar, bool) {
	s, ok := m.Scalars[name]
	return s, ok
}

// ReportName is the base file name the renderer uses for this report.
func (m *Metrics) ReportName() string {
	return m.InstallationName + " - maandrapportage bedrijfsvoering " + m.PeriodKey
}
