package ingest

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/models"
)

const (
	FlagPurityOutOfRange = "purity_out_of_range"
	FlagFlowNegative     = "flow_negative"
	FlagCounterReset     = "counter_reset"
	FlagTimeGap          = "time_gap"
	FlagNeverProducing   = "never_producing"
)

// MaxGap is the longest silence between raw samples before the export is
// flagged as having a hole.
const MaxGap = time.Hour

// ValidateSeries checks a normalized raw series against the plausibility
// rules for the channels the recipe binds. Flags are informational; none of
// them stops a report.
func ValidateSeries(s *models.Series, r installation.Recipe) []string {
	set := map[string]bool{}
	flag := func(name, channel string) {
		if channel != "" {
			name += ":" + channel
		}
		set[name] = true
	}

	for _, ch := range []string{r.Production.BiogasCH4, r.Production.BiomethaneCH4} {
		col, ok := s.Channel(ch)
		if !ok {
			continue
		}
		for _, v := range col {
			if v < 0 || v > 100 {
				flag(FlagPurityOutOfRange, ch)
				break
			}
		}
	}

	for _, ch := range []string{r.Production.BiogasFlow, r.Production.BiomethaneFlow} {
		col, ok := s.Channel(ch)
		if !ok {
			continue
		}
		for _, v := range col {
			if v < 0 {
				flag(FlagFlowNegative, ch)
				break
			}
		}
	}

	for _, e := range r.Energy {
		col, ok := s.Channel(e.Channel)
		if !ok {
			continue
		}
		for i := 1; i < len(col); i++ {
			if col[i] < col[i-1] {
				flag(FlagCounterReset, e.Channel)
				break
			}
		}
	}

	for i := 1; i < s.Len(); i++ {
		if s.Times[i].Sub(s.Times[i-1]) > MaxGap {
			flag(FlagTimeGap, "")
			break
		}
	}

	if col, ok := s.Channel(r.Status.Channel); ok {
		producing := false
		for _, v := range col {
			if v == r.Status.Producing {
				producing = true
				break
			}
		}
		if !producing {
			flag(FlagNeverProducing, r.Status.Channel)
		}
	}

	if len(set) == 0 {
		return nil
	}
	flags := make([]string, 0, len(set))
	for f := range set {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
