// Package report turns one month of raw export data into the Metrics a
// monthly operations report is rendered from.
package report

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lox/biogasreport/internal/analysis"
	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/metrics"
	"github.com/lox/biogasreport/internal/models"
	"github.com/lox/biogasreport/internal/timeseries"
)

// MainSubsystem names the availability and episode entries that describe
// the upgrading process itself rather than a secondary subsystem.
const MainSubsystem = "process"

type Runner struct {
	recipe  installation.Recipe
	loc     *time.Location
	cadence time.Duration
	now     func() time.Time
}

// Result is one completed run. ID is assigned when the run is recorded.
type Result struct {
	ID       string
	Metrics  *models.Metrics
	Raw      *models.Series
	Grid     *models.Series
	Duration time.Duration
}

func NewRunner(recipe installation.Recipe) (*Runner, error) {
	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	loc := time.UTC
	if recipe.Timezone != "" {
		l, err := time.LoadLocation(recipe.Timezone)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: timezone: %w", recipe.ID, err)
		}
		loc = l
	}
	return &Runner{
		recipe:  recipe,
		loc:     loc,
		cadence: timeseries.DefaultCadence,
		now:     time.Now,
	}, nil
}

func (r *Runner) Recipe() installation.Recipe {
	return r.recipe
}

// Run loads a CSV export and computes its metrics.
func (r *Runner) Run(in io.Reader) (*Result, error) {
	start := time.Now()
	raw, err := timeseries.Load(in, timeseries.LoadOptions{
		TimeColumn: r.recipe.TimeColumn,
		Location:   r.loc,
	})
	if err != nil {
		r.record("error", start)
		return nil, fmt.Errorf("load %s: %w", r.recipe.ID, err)
	}
	return r.run(raw, start)
}

func (r *Runner) run(raw *models.Series, start time.Time) (*Result, error) {
	res, err := r.compute(raw)
	if err != nil {
		r.record("error", start)
		return nil, err
	}
	res.Duration = time.Since(start)
	r.record("ok", start)

	m := res.Metrics
	log.Printf("report: %s %s: %d raw samples, %d grid samples, %d quality flags, %d warnings (%s)",
		m.InstallationID, m.PeriodKey, m.RawSamples, m.GridSamples,
		len(m.QualityFlags), len(m.Warnings), res.Duration.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) record(status string, start time.Time) {
	metrics.ReportRunsTotal.WithLabelValues(r.recipe.ID, status).Inc()
	metrics.ReportRunDuration.WithLabelValues(r.recipe.ID).Observe(time.Since(start).Seconds())
}

func (r *Runner) compute(raw *models.Series) (*Result, error) {
	rec := r.recipe
	if raw.Len() == 0 {
		return nil, fmt.Errorf("%s: %w: no samples", rec.ID, timeseries.ErrDataFormat)
	}
	if err := timeseries.RequireChannels(raw, rec.RequiredChannels()); err != nil {
		return nil, fmt.Errorf("%s: %w", rec.ID, err)
	}
	metrics.SamplesLoaded.WithLabelValues(rec.ID).Add(float64(raw.Len()))

	grid, err := timeseries.Resample(raw, r.cadence)
	if err != nil {
		return nil, fmt.Errorf("%s: resample: %w", rec.ID, err)
	}

	label, key := timeseries.Period(raw)
	m := &models.Metrics{
		InstallationID:   rec.ID,
		InstallationName: rec.Name,
		Period:           label,
		PeriodKey:        key,
		Start:            raw.Start(),
		End:              raw.End(),
		RawSamples:       raw.Len(),
		GridSamples:      grid.Len(),
		Scalars:          map[string]models.Scalar{},
		Availability:     map[string]models.AvailabilityBuckets{},
		Energy:           map[string]models.EnergyTotal{},
		Episodes:         map[string][]models.Episode{},
		QualityFlags:     ingest.ValidateSeries(raw, rec),
		GeneratedAt:      r.now().UTC(),
	}
	c := &calc{recipe: rec, grid: grid, m: m}

	if err := c.production(); err != nil {
		return nil, err
	}
	if err := c.slip(); err != nil {
		return nil, err
	}
	if err := c.h2s(); err != nil {
		return nil, err
	}
	if err := c.availability(); err != nil {
		return nil, err
	}
	if err := c.energy(); err != nil {
		return nil, err
	}
	if err := c.episodes(raw); err != nil {
		return nil, err
	}

	return &Result{
		Metrics: m,
		Raw:     raw,
		Grid:    grid,
	}, nil
}

// calc fills one Metrics from the resampled grid.
type calc struct {
	recipe    installation.Recipe
	grid      *models.Series
	m         *models.Metrics
	producing analysis.Selection
}

// set stores v under name. Degenerate aggregates become undefined scalars
// with a warning; any other error aborts the run.
func (c *calc) set(name string, v float64, err error) error {
	if err == nil {
		s := models.Value(v)
		if s.State == models.ScalarUndefined {
			c.undefined(name, s.Reason)
			return nil
		}
		c.m.Scalars[name] = s
		return nil
	}
	var me *analysis.MetricError
	if errors.As(err, &me) {
		c.undefined(name, me.Reason)
		return nil
	}
	return fmt.Errorf("%s: %s: %w", c.recipe.ID, name, err)
}

func (c *calc) undefined(name, reason string) {
	c.m.Scalars[name] = models.Undefined(reason)
	c.m.Warnings = append(c.m.Warnings, name+": "+reason)
	metrics.DegenerateMetrics.WithLabelValues(c.recipe.ID, name).Inc()
}

// value returns a scalar computed earlier, if it is usable.
func (c *calc) value(name string) (float64, bool) {
	s, ok := c.m.Scalars[name]
	if !ok {
		return 0, false
	}
	return s.Float()
}

func (c *calc) production() error {
	var err error
	st := c.recipe.Status
	c.producing, err = analysis.WhereEquals(c.grid, st.Channel, st.Producing)
	if err != nil {
		return fmt.Errorf("%s: status: %w", c.recipe.ID, err)
	}

	p := c.recipe.Production
	if p.HasBiogas() {
		v, err := analysis.Volume(c.grid, c.producing, p.BiogasFlow)
		if err := c.set(models.MetricBiogasVolume, v, err); err != nil {
			return err
		}
		v, err = analysis.Purity(c.grid, c.producing, p.BiogasCH4, p.BiogasCH4Floor)
		if err := c.set(models.MetricBiogasCH4, v, err); err != nil {
			return err
		}
	}
	if p.HasBiomethane() {
		v, err := analysis.Volume(c.grid, c.producing, p.BiomethaneFlow)
		if err := c.set(models.MetricBiomethaneVolume, v, err); err != nil {
			return err
		}
		v, err = analysis.Purity(c.grid, c.producing, p.BiomethaneCH4, p.BiomethaneCH4Floor)
		if err := c.set(models.MetricBiomethaneCH4, v, err); err != nil {
			return err
		}
	}
	if cp := c.recipe.Capacity; cp != nil {
		v, err := analysis.Capacity(c.grid, c.producing, cp.LoadA, cp.LoadB)
		if err := c.set(models.MetricCapacity, v, err); err != nil {
			return err
		}
	}
	return nil
}

func (c *calc) slip() error {
	sl := c.recipe.Slip
	switch sl.Method {
	case installation.SlipNotApplicable, "":
		c.m.Scalars[models.MetricMethaneSlip] = models.NotApplicable()

	case installation.SlipStandard:
		bg, ok1 := c.value(models.MetricBiogasVolume)
		bgCH4, ok2 := c.value(models.MetricBiogasCH4)
		bm, ok3 := c.value(models.MetricBiomethaneVolume)
		bmCH4, ok4 := c.value(models.MetricBiomethaneCH4)
		if !(ok1 && ok2 && ok3 && ok4) {
			c.undefined(models.MetricMethaneSlip, "production metrics undefined")
			break
		}
		v, err := analysis.MethaneSlip(bm, bmCH4, bg, bgCH4)
		if err := c.set(models.MetricMethaneSlip, v, err); err != nil {
			return err
		}

	case installation.SlipSubsystemWeighted:
		bgCH4, ok := c.value(models.MetricBiogasCH4)
		if !ok {
			c.undefined(models.MetricMethaneSlip, "biogas purity undefined")
			break
		}
		sel, err := c.producing.In(c.grid, sl.Subsystem, sl.SubsystemCodes...)
		if err != nil {
			return fmt.Errorf("%s: slip: %w", c.recipe.ID, err)
		}
		v, err := analysis.WeightedSlip(c.grid, sel, sl.Channel, bgCH4)
		if err := c.set(models.MetricMethaneSlip, v, err); err != nil {
			return err
		}
	}

	if a := c.recipe.ActiveSlip; a != nil {
		sel, err := c.producing.In(c.grid, a.Subsystem, a.ActiveCode)
		if err != nil {
			return fmt.Errorf("%s: active slip: %w", c.recipe.ID, err)
		}
		v, err := analysis.ActiveSlip(c.grid, sel, a.Channel, a.Factor)
		if err := c.set(models.MetricMethaneSlipActive, v, err); err != nil {
			return err
		}
	}
	return nil
}

func (c *calc) h2s() error {
	h := c.recipe.H2S
	if h == nil {
		return nil
	}
	mean, err := analysis.H2SWeighted(c.grid, c.producing, h.Channel, h.Flow, h.Floor)
	if err := c.set(models.MetricH2SMean, mean, err); err != nil {
		return err
	}
	mean, ok1 := c.value(models.MetricH2SMean)
	biogas, ok2 := c.value(models.MetricBiogasVolume)
	if !(ok1 && ok2) {
		c.undefined(models.MetricH2SWeightedBiogas, "H2S mean or biogas volume undefined")
		return nil
	}
	return c.set(models.MetricH2SWeightedBiogas, mean/analysis.H2SReference*biogas, nil)
}

func (c *calc) availability() error {
	for _, spec := range c.recipe.Availability {
		mode, err := analysis.ParseMode(spec.Mode)
		if err != nil {
			return fmt.Errorf("%s: availability %s: %w", c.recipe.ID, spec.Name, err)
		}
		b, err := analysis.Classify(c.grid, spec.Channel, mode)
		if err != nil {
			return fmt.Errorf("%s: availability %s: %w", c.recipe.ID, spec.Name, err)
		}
		c.m.Availability[spec.Name] = b
	}
	return nil
}

func (c *calc) energy() error {
	biogas, haveBiogas := c.value(models.MetricBiogasVolume)
	for _, spec := range c.recipe.Energy {
		e, err := analysis.Integrate(c.grid, spec.Channel)
		if err != nil {
			return fmt.Errorf("%s: energy %s: %w", c.recipe.ID, spec.Name, err)
		}
		if e.Resets > 0 {
			c.m.Warnings = append(c.m.Warnings,
				fmt.Sprintf("energy %s: %d counter resets skipped", spec.Name, e.Resets))
		}

		if haveBiogas {
			v, err := analysis.SpecificEnergy(e.Total, biogas)
			var me *analysis.MetricError
			switch {
			case err == nil:
				e.Specific = models.Value(v)
			case errors.As(err, &me):
				e.Specific = models.Undefined(me.Reason)
			default:
				return fmt.Errorf("%s: energy %s: %w", c.recipe.ID, spec.Name, err)
			}
		} else {
			e.Specific = models.Undefined("biogas volume undefined")
		}
		if e.Specific.State == models.ScalarUndefined {
			c.m.Warnings = append(c.m.Warnings, "energy "+spec.Name+": specific energy: "+e.Specific.Reason)
			metrics.DegenerateMetrics.WithLabelValues(c.recipe.ID, "specific_energy_"+spec.Name).Inc()
		}
		c.m.Energy[spec.Name] = e
	}
	return nil
}

// episodes segments each configured status channel. Episodes on the main
// process channel keep the raw sample timing.
func (c *calc) episodes(raw *models.Series) error {
	for _, spec := range c.recipe.Episodes {
		s := raw
		if spec.Resampled() {
			s = c.grid
		}
		codes := spec.FaultCodes
		if len(codes) == 0 {
			codes = analysis.DefaultFaultCodes
		}
		eps, err := analysis.Segment(s, spec.Channel, codes...)
		if err != nil {
			return fmt.Errorf("%s: episodes %s: %w", c.recipe.ID, spec.Name, err)
		}
		if eps == nil {
			eps = []models.Episode{}
		}
		c.m.Episodes[spec.Name] = eps
		metrics.EpisodesDetected.WithLabelValues(c.recipe.ID, spec.Name).Add(float64(len(eps)))
	}
	return nil
}
