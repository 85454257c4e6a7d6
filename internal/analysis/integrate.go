package analysis

import (
	"math"

	"github.com/lox/biogasreport/internal/models"
)

// Integrate sums the increments of a cumulative counter. A decrease is
// treated as a counter reset and contributes nothing, so consumption across
// a reset boundary is undercounted. Non-finite readings are skipped.
func Integrate(s *models.Series, channel string) (models.EnergyTotal, error) {
	col, ok := s.Channel(channel)
	if !ok {
		return models.EnergyTotal{}, missingChannel(channel)
	}

	out := models.EnergyTotal{Channel: channel}
	prev := math.NaN()
	for _, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if !math.IsNaN(prev) {
			if d := v - prev; d >= 0 {
				out.Total += d
			} else {
				out.Resets++
			}
		}
		prev = v
	}
	return out, nil
}
