// Package installation describes, per site, which channels an export
// carries and which calculations its monthly report runs. Adding a site is
// a new YAML entry, not new code.
package installation

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/lox/biogasreport/internal/analysis"
)

type SlipMethod string

const (
	SlipStandard          SlipMethod = "standard"
	SlipSubsystemWeighted SlipMethod = "subsystem_weighted"
	SlipNotApplicable     SlipMethod = "not_applicable"
)

const (
	GridRaw       = "raw"
	GridResampled = "resampled"
)

type Recipe struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	TimeColumn string `yaml:"time_column"`
	// Timezone of exports whose timestamps carry no offset.
	Timezone string `yaml:"timezone"`

	Status       StatusBinding      `yaml:"status"`
	Production   ProductionBinding  `yaml:"production"`
	Capacity     *CapacityBinding   `yaml:"capacity"`
	Slip         SlipBinding        `yaml:"slip"`
	ActiveSlip   *ActiveSlipBinding `yaml:"active_slip"`
	H2S          *H2SBinding        `yaml:"h2s"`
	Availability []AvailabilitySpec `yaml:"availability"`
	Energy       []EnergySpec       `yaml:"energy"`
	Episodes     []EpisodeSpec      `yaml:"episodes"`
}

type StatusBinding struct {
	Channel   string  `yaml:"channel"`
	Producing float64 `yaml:"producing"`
}

type ProductionBinding struct {
	BiogasFlow         string   `yaml:"biogas_flow"`
	BiogasCH4          string   `yaml:"biogas_ch4"`
	BiogasCH4Floor     *float64 `yaml:"biogas_ch4_floor"`
	BiomethaneFlow     string   `yaml:"biomethane_flow"`
	BiomethaneCH4      string   `yaml:"biomethane_ch4"`
	BiomethaneCH4Floor *float64 `yaml:"biomethane_ch4_floor"`
}

type CapacityBinding struct {
	LoadA string `yaml:"load_a"`
	LoadB string `yaml:"load_b"`
}

type SlipBinding struct {
	Method SlipMethod `yaml:"method"`
	// Measured slip percentage, for subsystem_weighted.
	Channel        string    `yaml:"channel"`
	Subsystem      string    `yaml:"subsystem"`
	SubsystemCodes []float64 `yaml:"subsystem_codes"`
}

type ActiveSlipBinding struct {
	Channel    string  `yaml:"channel"`
	Factor     string  `yaml:"factor"`
	Subsystem  string  `yaml:"subsystem"`
	ActiveCode float64 `yaml:"active_code"`
}

type H2SBinding struct {
	Channel string  `yaml:"channel"`
	Flow    string  `yaml:"flow"`
	Floor   float64 `yaml:"floor"`
}

type AvailabilitySpec struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
	Mode    string `yaml:"mode"`
}

type EnergySpec struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
}

type EpisodeSpec struct {
	Name       string    `yaml:"name"`
	Channel    string    `yaml:"channel"`
	FaultCodes []float64 `yaml:"fault_codes"`
	// Grid is "raw" (default) or "resampled".
	Grid string `yaml:"grid"`
}

func (e EpisodeSpec) Resampled() bool {
	return e.Grid == GridResampled
}

func (p ProductionBinding) HasBiogas() bool {
	return p.BiogasFlow != "" && p.BiogasCH4 != ""
}

func (p ProductionBinding) HasBiomethane() bool {
	return p.BiomethaneFlow != "" && p.BiomethaneCH4 != ""
}

func (r Recipe) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("%s: name is required", r.ID)
	}
	if r.Status.Channel == "" {
		return fmt.Errorf("%s: status.channel is required", r.ID)
	}

	switch r.Slip.Method {
	case SlipStandard:
		if !r.Production.HasBiogas() || !r.Production.HasBiomethane() {
			return fmt.Errorf("%s: standard slip needs biogas and biomethane channels", r.ID)
		}
	case SlipSubsystemWeighted:
		if r.Slip.Channel == "" || r.Slip.Subsystem == "" || len(r.Slip.SubsystemCodes) == 0 {
			return fmt.Errorf("%s: subsystem_weighted slip needs channel, subsystem and subsystem_codes", r.ID)
		}
		if !r.Production.HasBiogas() {
			return fmt.Errorf("%s: subsystem_weighted slip needs biogas channels", r.ID)
		}
	case SlipNotApplicable, "":
	default:
		return fmt.Errorf("%s: unknown slip method %q", r.ID, r.Slip.Method)
	}

	if r.Capacity != nil && (r.Capacity.LoadA == "" || r.Capacity.LoadB == "") {
		return fmt.Errorf("%s: capacity needs load_a and load_b", r.ID)
	}
	if a := r.ActiveSlip; a != nil && (a.Channel == "" || a.Factor == "" || a.Subsystem == "") {
		return fmt.Errorf("%s: active_slip needs channel, factor and subsystem", r.ID)
	}
	if h := r.H2S; h != nil {
		if h.Channel == "" || h.Flow == "" {
			return fmt.Errorf("%s: h2s needs channel and flow", r.ID)
		}
	}

	names := map[string]bool{}
	for _, a := range r.Availability {
		if a.Name == "" || a.Channel == "" {
			return fmt.Errorf("%s: availability entries need name and channel", r.ID)
		}
		if names[a.Name] {
			return fmt.Errorf("%s: duplicate availability %q", r.ID, a.Name)
		}
		names[a.Name] = true
		if _, err := analysis.ParseMode(a.Mode); err != nil {
			return fmt.Errorf("%s: availability %q: %w", r.ID, a.Name, err)
		}
	}

	names = map[string]bool{}
	for _, e := range r.Energy {
		if e.Name == "" || e.Channel == "" {
			return fmt.Errorf("%s: energy entries need name and channel", r.ID)
		}
		if names[e.Name] {
			return fmt.Errorf("%s: duplicate energy %q", r.ID, e.Name)
		}
		names[e.Name] = true
	}

	names = map[string]bool{}
	for _, e := range r.Episodes {
		if e.Name == "" || e.Channel == "" {
			return fmt.Errorf("%s: episode entries need name and channel", r.ID)
		}
		if names[e.Name] {
			return fmt.Errorf("%s: duplicate episodes %q", r.ID, e.Name)
		}
		names[e.Name] = true
		if e.Grid != "" && e.Grid != GridRaw && e.Grid != GridResampled {
			return fmt.Errorf("%s: episodes %q: unknown grid %q", r.ID, e.Name, e.Grid)
		}
	}
	return nil
}

// RequiredChannels lists every channel the recipe reads, without duplicates.
func (r Recipe) RequiredChannels() []string {
	ch := []string{r.Status.Channel}
	p := r.Production
	ch = append(ch, p.BiogasFlow, p.BiogasCH4, p.BiomethaneFlow, p.BiomethaneCH4)
	if r.Capacity != nil {
		ch = append(ch, r.Capacity.LoadA, r.Capacity.LoadB)
	}
	if r.Slip.Method == SlipSubsystemWeighted {
		ch = append(ch, r.Slip.Channel, r.Slip.Subsystem)
	}
	if a := r.ActiveSlip; a != nil {
		ch = append(ch, a.Channel, a.Factor, a.Subsystem)
	}
	if h := r.H2S; h != nil {
		ch = append(ch, h.Channel, h.Flow)
	}
	for _, a := range r.Availability {
		ch = append(ch, a.Channel)
	}
	for _, e := range r.Energy {
		ch = append(ch, e.Channel)
	}
	for _, e := range r.Episodes {
		ch = append(ch, e.Channel)
	}
	return lo.Uniq(lo.Compact(ch))
}
