package models

import (
	"encoding/json"
	"math"
	"time"
)

// Episode is a contiguous run of fault codes on a status channel. End is
// the first sample after the run (exclusive). Unterminated episodes were
// still in fault at the last sample and are closed at that sample.
type Episode struct {
	Channel      string        `json:"channel"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Duration     time.Duration `json:"-"`
	Unterminated bool          `json:"unterminated,omitempty"`
}

// episodeJSON carries the duration in seconds and in the report's rounded
// hours rather than as nanoseconds.
type episodeJSON struct {
	Channel         string    `json:"channel"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
	DurationHours   float64   `json:"duration_hours"`
	Unterminated    bool      `json:"unterminated,omitempty"`
}

func (e Episode) MarshalJSON() ([]byte, error) {
	return json.Marshal(episodeJSON{
		Channel:         e.Channel,
		Start:           e.Start,
		End:             e.End,
		DurationSeconds: e.Duration.Seconds(),
		DurationHours:   e.DurationHours(),
		Unterminated:    e.Unterminated,
	})
}

// UnmarshalJSON restores Duration from duration_seconds; duration_hours is
// derived and ignored.
func (e *Episode) UnmarshalJSON(b []byte) error {
	var w episodeJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Episode{
		Channel:      w.Channel,
		Start:        w.Start,
		End:          w.End,
		Duration:     time.Duration(math.Round(w.DurationSeconds * float64(time.Second))),
		Unterminated: w.Unterminated,
	}
	return nil
}

// DurationHours rounds the duration up to hundredths of an hour.
func (e Episode) DurationHours() float64 {
	return math.Ceil(100*e.Duration.Hours()) / 100
}

func (e Episode) Overlaps(o Episode) bool {
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}
