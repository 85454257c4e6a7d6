package models

import (
	"sort"
	"time"
)

// Series is a time-ordered, columnar table of channel readings. Raw series
// have a zero Cadence; resampled series carry the grid spacing.
type Series struct {
	Times    []time.Time
	Channels map[string][]float64
	Cadence  time.Duration
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Times)
}

func (s *Series) Channel(name string) ([]float64, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Channels[name]
	return v, ok
}

func (s *Series) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SamplesPerHour is the number of grid points per hour, or 0 for a series
// that has not been resampled.
func (s *Series) SamplesPerHour() int {
	if s == nil || s.Cadence <= 0 {
		return 0
	}
	return int(time.Hour / s.Cadence)
}

func (s *Series) Start() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Times[0]
}

func (s *Series) End() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Times[len(s.Times)-1]
}
