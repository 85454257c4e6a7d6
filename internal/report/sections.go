package report

import (
	"fmt"
	"sort"

	"github.com/lox/biogasreport/internal/models"
)

// Section is an optional block of a monthly report. Which sections a report
// carries follows from what the installation's recipe computed.
type Section string

const (
	SectionProduction            Section = "production"
	SectionAvailability          Section = "availability"
	SectionSubsystemAvailability Section = "subsystem_availability"
	SectionEnergy                Section = "energy"
	SectionSlip                  Section = "slip"
	SectionH2S                   Section = "h2s"
	SectionEpisodes              Section = "episodes"
	SectionSubsystemEpisodes     Section = "subsystem_episodes"
)

var allSections = []Section{
	SectionProduction,
	SectionAvailability,
	SectionSubsystemAvailability,
	SectionEnergy,
	SectionSlip,
	SectionH2S,
	SectionEpisodes,
	SectionSubsystemEpisodes,
}

var productionScalars = []string{
	models.MetricBiogasVolume,
	models.MetricBiogasCH4,
	models.MetricBiomethaneVolume,
	models.MetricBiomethaneCH4,
	models.MetricCapacity,
}

var slipScalars = []string{models.MetricMethaneSlip, models.MetricMethaneSlipActive}

var h2sScalars = []string{models.MetricH2SMean, models.MetricH2SWeightedBiogas}

func ParseSection(name string) (Section, error) {
	for _, s := range allSections {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown report section %q", name)
}

// Sections lists the sections m has data for, in report order.
func Sections(m *models.Metrics) []Section {
	var out []Section
	for _, s := range allSections {
		if populated(m, s) {
			out = append(out, s)
		}
	}
	return out
}

func populated(m *models.Metrics, s Section) bool {
	switch s {
	case SectionProduction:
		return hasAny(m.Scalars, productionScalars)
	case SectionSlip:
		return hasAny(m.Scalars, slipScalars)
	case SectionH2S:
		return hasAny(m.Scalars, h2sScalars)
	case SectionAvailability:
		_, ok := m.Availability[MainSubsystem]
		return ok
	case SectionSubsystemAvailability:
		return len(subsystemKeys(m.Availability)) > 0
	case SectionEnergy:
		return len(m.Energy) > 0
	case SectionEpisodes:
		_, ok := m.Episodes[MainSubsystem]
		return ok
	case SectionSubsystemEpisodes:
		return len(subsystemKeys(m.Episodes)) > 0
	}
	return false
}

// Select returns a copy of m restricted to the requested sections. Identity
// and quality fields are always kept. With no sections m is copied whole.
func Select(m *models.Metrics, sections ...Section) *models.Metrics {
	if len(sections) == 0 {
		sections = allSections
	}
	want := map[Section]bool{}
	for _, s := range sections {
		want[s] = true
	}

	out := *m
	out.Scalars = map[string]models.Scalar{}
	out.Availability = map[string]models.AvailabilityBuckets{}
	out.Energy = map[string]models.EnergyTotal{}
	out.Episodes = map[string][]models.Episode{}
	out.QualityFlags = append([]string(nil), m.QualityFlags...)
	out.Warnings = append([]string(nil), m.Warnings...)

	copyScalars := func(names []string) {
		for _, n := range names {
			if v, ok := m.Scalars[n]; ok {
				out.Scalars[n] = v
			}
		}
	}
	if want[SectionProduction] {
		copyScalars(productionScalars)
	}
	if want[SectionSlip] {
		copyScalars(slipScalars)
	}
	if want[SectionH2S] {
		copyScalars(h2sScalars)
	}
	for name, b := range m.Availability {
		if (name == MainSubsystem && want[SectionAvailability]) ||
			(name != MainSubsystem && want[SectionSubsystemAvailability]) {
			out.Availability[name] = b
		}
	}
	if want[SectionEnergy] {
		for name, e := range m.Energy {
			out.Energy[name] = e
		}
	}
	for name, eps := range m.Episodes {
		if (name == MainSubsystem && want[SectionEpisodes]) ||
			(name != MainSubsystem && want[SectionSubsystemEpisodes]) {
			out.Episodes[name] = append([]models.Episode(nil), eps...)
		}
	}
	return &out
}

func hasAny(scalars map[string]models.Scalar, names []string) bool {
	for _, n := range names {
		if _, ok := scalars[n]; ok {
			return true
		}
	}
	return false
}

func subsystemKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		if k != MainSubsystem {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
