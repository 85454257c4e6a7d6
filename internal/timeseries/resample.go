package timeseries

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/biogasreport/internal/models"
)

// DefaultCadence is the grid every hour-counting calculation assumes.
const DefaultCadence = 5 * time.Minute

// Resample rebases s onto a fixed grid from the first to the last sample,
// both truncated to cadence. Each grid point takes the values of the first
// raw sample at or after it. No values are interpolated.
func Resample(s *models.Series, cadence time.Duration) (*models.Series, error) {
	if cadence <= 0 || time.Hour%cadence != 0 {
		return nil, fmt.Errorf("cadence %s must divide an hour", cadence)
	}
	if s.Len() == 0 {
		return nil, errors.New("resample: empty series")
	}

	start := s.Start().Truncate(cadence)
	end := s.End().Truncate(cadence)
	n := int(end.Sub(start)/cadence) + 1

	grid := make([]time.Time, n)
	src := make([]int, n)
	j := 0
	for i := range grid {
		t := start.Add(time.Duration(i) * cadence)
		for s.Times[j].Before(t) {
			j++
		}
		grid[i] = t
		src[i] = j
	}

	out := &models.Series{
		Times:    grid,
		Channels: make(map[string][]float64, len(s.Channels)),
		Cadence:  cadence,
	}
	for name, col := range s.Channels {
		rc := make([]float64, n)
		for i, k := range src {
			rc[i] = col[k]
		}
		out.Channels[name] = rc
	}
	return out, nil
}
