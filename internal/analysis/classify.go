package analysis

import (
	"fmt"

	"github.com/lox/biogasreport/internal/models"
)

// CodeMapping says which status values count as trip and which as standby.
// Everything else is running.
type CodeMapping struct {
	Name    string
	Trip    []float64
	Standby []float64
}

var (
	ModeNormal   = CodeMapping{Name: "normal", Trip: []float64{5}, Standby: []float64{1}}
	ModeExtended = CodeMapping{Name: "extended", Trip: []float64{90, 99, 1}, Standby: []float64{2}}
	// ModeProcess is the mapping of the main upgrading sequence.
	ModeProcess = CodeMapping{Name: "process", Trip: []float64{90, 99}, Standby: []float64{1}}
)

var modes = map[string]CodeMapping{
	ModeNormal.Name:   ModeNormal,
	ModeExtended.Name: ModeExtended,
	ModeProcess.Name:  ModeProcess,
}

func ParseMode(name string) (CodeMapping, error) {
	m, ok := modes[name]
	if !ok {
		return CodeMapping{}, fmt.Errorf("unknown availability mode %q", name)
	}
	return m, nil
}

// Classify counts samples of channel per bucket and converts them to hours.
// Trip and standby are floored and running is the ceiling of what remains,
// so Trip+Standby+Running equals the observed hours rounded up.
func Classify(s *models.Series, channel string, mapping CodeMapping) (models.AvailabilityBuckets, error) {
	sph := s.SamplesPerHour()
	if sph == 0 {
		return models.AvailabilityBuckets{}, ErrNoCadence
	}
	col, ok := s.Channel(channel)
	if !ok {
		return models.AvailabilityBuckets{}, missingChannel(channel)
	}

	trip := codeSet(mapping.Trip)
	standby := codeSet(mapping.Standby)
	var nTrip, nStandby int
	for _, v := range col {
		switch {
		case trip[v]:
			nTrip++
		case standby[v]:
			nStandby++
		}
	}

	b := models.AvailabilityBuckets{
		Channel: channel,
		Mode:    mapping.Name,
		Trip:    nTrip / sph,
		Standby: nStandby / sph,
	}
	rest := len(col) - (b.Trip+b.Standby)*sph
	b.Running = (rest + sph - 1) / sph
	return b, nil
}
