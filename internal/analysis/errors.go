// Package analysis holds the time-series calculations behind a monthly
// report: fault episodes, availability hours, counter integration and the
// derived production metrics.
package analysis

import (
	"errors"
	"fmt"
)

// ErrDegenerate is returned when an aggregate has nothing to aggregate or
// would divide by zero.
var ErrDegenerate = errors.New("degenerate aggregate")

// ErrNoCadence is returned by hour-counting calculations on a series that
// was never resampled.
var ErrNoCadence = errors.New("series has no fixed cadence")

type MetricError struct {
	Metric string
	Reason string
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("%s: %s", e.Metric, e.Reason)
}

func (e *MetricError) Unwrap() error { return ErrDegenerate }

func degenerate(metric, reason string) error {
	return &MetricError{Metric: metric, Reason: reason}
}

func missingChannel(name string) error {
	return fmt.Errorf("channel %q not in series", name)
}
