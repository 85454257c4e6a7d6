package analysis

import (
	"math"

	"github.com/lox/biogasreport/internal/models"
)

// MethaneDensity is the mass of methane per normal cubic metre in g/Nm3,
// from the ideal gas law at 101325 Pa and 273.15 K.
const MethaneDensity = 101325 * 16.04 / 8.314 / 273.15

// H2SReference is the H2S concentration (ppm) treated biogas is weighted
// against.
const H2SReference = 17.0

// Selection is a set of sample indices, in time order.
type Selection []int

// WhereEquals selects the samples where channel holds code.
func WhereEquals(s *models.Series, channel string, code float64) (Selection, error) {
	col, ok := s.Channel(channel)
	if !ok {
		return nil, missingChannel(channel)
	}
	var sel Selection
	for i, v := range col {
		if v == code {
			sel = append(sel, i)
		}
	}
	return sel, nil
}

// Filter keeps the selected samples of channel for which keep is true.
func (sel Selection) Filter(s *models.Series, channel string, keep func(float64) bool) (Selection, error) {
	col, ok := s.Channel(channel)
	if !ok {
		return nil, missingChannel(channel)
	}
	out := make(Selection, 0, len(sel))
	for _, i := range sel {
		if keep(col[i]) {
			out = append(out, i)
		}
	}
	return out, nil
}

// In keeps the selected samples where channel holds one of codes.
func (sel Selection) In(s *models.Series, channel string, codes ...float64) (Selection, error) {
	set := codeSet(codes)
	return sel.Filter(s, channel, func(v float64) bool { return set[v] })
}

func (sel Selection) sum(col []float64) float64 {
	var total float64
	for _, i := range sel {
		total += col[i]
	}
	return total
}

// Volume converts the sum of a flow channel over sel from per-sample rates
// to an hourly volume.
func Volume(s *models.Series, sel Selection, flowChannel string) (float64, error) {
	sph := s.SamplesPerHour()
	if sph == 0 {
		return 0, ErrNoCadence
	}
	col, ok := s.Channel(flowChannel)
	if !ok {
		return 0, missingChannel(flowChannel)
	}
	return sel.sum(col) / float64(sph), nil
}

// Mean averages channel over sel.
func Mean(s *models.Series, sel Selection, channel string) (float64, error) {
	col, ok := s.Channel(channel)
	if !ok {
		return 0, missingChannel(channel)
	}
	if len(sel) == 0 {
		return 0, degenerate(channel, "no samples selected")
	}
	return sel.sum(col) / float64(len(sel)), nil
}

// Purity averages a methane percentage over sel. With a floor, readings at
// or below it are dropped first as sensor noise.
func Purity(s *models.Series, sel Selection, channel string, floor *float64) (float64, error) {
	if floor != nil {
		limit := *floor
		var err error
		sel, err = sel.Filter(s, channel, func(v float64) bool { return v > limit })
		if err != nil {
			return 0, err
		}
	}
	return Mean(s, sel, channel)
}

// Capacity is the mean of 50 + a/2 - b/2 over sel, a load index relative
// to nameplate.
func Capacity(s *models.Series, sel Selection, a, b string) (float64, error) {
	colA, ok := s.Channel(a)
	if !ok {
		return 0, missingChannel(a)
	}
	colB, ok := s.Channel(b)
	if !ok {
		return 0, missingChannel(b)
	}
	if len(sel) == 0 {
		return 0, degenerate(models.MetricCapacity, "no samples selected")
	}
	var total float64
	for _, i := range sel {
		total += 50 + colA[i]/2 - colB[i]/2
	}
	return total / float64(len(sel)), nil
}

// MethaneSlip is the percentage of methane fed in as biogas that does not
// leave as biomethane.
func MethaneSlip(biomethane, biomethaneCH4, biogas, biogasCH4 float64) (float64, error) {
	in := biogas * biogasCH4
	if in == 0 || !finite(in) {
		return 0, degenerate(models.MetricMethaneSlip, "no methane fed in")
	}
	out := biomethane * biomethaneCH4
	if !finite(out) {
		return 0, degenerate(models.MetricMethaneSlip, "biomethane output not finite")
	}
	return 100 * (1 - out/in), nil
}

// WeightedSlip estimates slip in g/Nm3 from a measured slip percentage and
// the biogas purity: mean(slip)/100 * purity/100 * MethaneDensity.
func WeightedSlip(s *models.Series, slipSel Selection, slipChannel string, biogasCH4 float64) (float64, error) {
	slip, err := Mean(s, slipSel, slipChannel)
	if err != nil {
		return 0, &MetricError{Metric: models.MetricMethaneSlip, Reason: err.Error()}
	}
	return slip / 100 * biogasCH4 / 100 * MethaneDensity, nil
}

// ActiveSlip averages slip*factor/100 over sel.
func ActiveSlip(s *models.Series, sel Selection, slipChannel, factorChannel string) (float64, error) {
	slip, ok := s.Channel(slipChannel)
	if !ok {
		return 0, missingChannel(slipChannel)
	}
	factor, ok := s.Channel(factorChannel)
	if !ok {
		return 0, missingChannel(factorChannel)
	}
	if len(sel) == 0 {
		return 0, degenerate(models.MetricMethaneSlipActive, "subsystem never active while producing")
	}
	var total float64
	for _, i := range sel {
		total += slip[i] * factor[i] / 100
	}
	return total / float64(len(sel)), nil
}

// H2SWeighted is the flow-weighted mean H2S concentration over the
// producing samples. Readings below floor are treated as missing and
// bridged by linear interpolation over the whole series first. The
// denominator is the whole producing flow; samples still without a
// reading only drop out of the numerator.
func H2SWeighted(s *models.Series, producing Selection, h2sChannel, flowChannel string, floor float64) (float64, error) {
	raw, ok := s.Channel(h2sChannel)
	if !ok {
		return 0, missingChannel(h2sChannel)
	}
	flow, ok := s.Channel(flowChannel)
	if !ok {
		return 0, missingChannel(flowChannel)
	}

	h2s := make([]float64, len(raw))
	for i, v := range raw {
		if v < floor {
			v = math.NaN()
		}
		h2s[i] = v
	}
	interpolate(h2s)

	var num, den float64
	var readings int
	for _, i := range producing {
		if math.IsNaN(flow[i]) {
			continue
		}
		den += flow[i]
		if math.IsNaN(h2s[i]) {
			continue
		}
		num += h2s[i] * flow[i]
		readings++
	}
	if den == 0 || readings == 0 {
		return 0, degenerate(models.MetricH2SMean, "no producing flow with an H2S reading")
	}
	return num / den, nil
}

// interpolate fills interior gaps linearly by position and holds the last
// value over a trailing gap. A leading gap stays missing.
func interpolate(col []float64) {
	last := -1
	for i, v := range col {
		if math.IsNaN(v) {
			continue
		}
		if last >= 0 && i-last > 1 {
			step := (v - col[last]) / float64(i-last)
			for k := last + 1; k < i; k++ {
				col[k] = col[last] + step*float64(k-last)
			}
		}
		last = i
	}
	if last >= 0 {
		for k := last + 1; k < len(col); k++ {
			col[k] = col[last]
		}
	}
}

// SpecificEnergy is energy per 1000 Nm3 of biogas.
func SpecificEnergy(energy, biogas float64) (float64, error) {
	if biogas == 0 || !finite(biogas) {
		return 0, degenerate("specific_energy", "no biogas produced")
	}
	return 1000 * energy / biogas, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
