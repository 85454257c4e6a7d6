package analysis

import (
	"time"

	"github.com/lox/biogasreport/internal/models"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// gridSeries builds a 5-minute series from equally long channel columns.
func gridSeries(channels map[string][]float64) *models.Series {
	n := 0
	for _, col := range channels {
		n = len(col)
		break
	}
	s := &models.Series{
		Times:    make([]time.Time, n),
		Channels: channels,
		Cadence:  5 * time.Minute,
	}
	for i := range s.Times {
		s.Times[i] = testStart.Add(time.Duration(i) * 5 * time.Minute)
	}
	return s
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
