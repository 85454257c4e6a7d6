// Package timeseries turns exported telemetry tables into canonical,
// gap-free series and rebases them onto a fixed grid.
package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/biogasreport/internal/models"
)

var (
	// ErrDataFormat marks input that cannot be turned into a series at all.
	ErrDataFormat = errors.New("data format")
	// ErrMissingChannel marks a channel a recipe needs but the input lacks.
	ErrMissingChannel = errors.New("missing channel")
)

const DefaultTimeColumn = "time"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

type LoadOptions struct {
	TimeColumn string
	// Location applies to timestamps without an offset. Defaults to UTC.
	Location *time.Location
}

type row struct {
	t    time.Time
	vals []float64
}

func LoadFile(path string, opts LoadOptions) (*models.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, opts)
}

// Load parses a CSV export, sorts it by time, merges duplicate timestamps
// and fills missing values forward then backward.
func Load(r io.Reader, opts LoadOptions) (*models.Series, error) {
	if opts.TimeColumn == "" {
		opts.TimeColumn = DefaultTimeColumn
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrDataFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrDataFormat, err)
	}

	timeIdx := -1
	var names []string
	var cols []int
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == opts.TimeColumn {
			timeIdx = i
			continue
		}
		if h == "" {
			continue
		}
		names = append(names, h)
		cols = append(cols, i)
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("%w: no %q column", ErrDataFormat, opts.TimeColumn)
	}

	var rows []row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDataFormat, line, err)
		}
		if timeIdx >= len(rec) {
			return nil, fmt.Errorf("%w: line %d: missing timestamp", ErrDataFormat, line)
		}
		t, err := parseTime(rec[timeIdx], opts.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDataFormat, line, err)
		}
		vals := make([]float64, len(cols))
		for j, c := range cols {
			if c >= len(rec) {
				vals[j] = math.NaN()
				continue
			}
			v, err := parseValue(rec[c])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", ErrDataFormat, line, names[j], err)
			}
			vals[j] = v
		}
		rows = append(rows, row{t: t, vals: vals})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrDataFormat)
	}

	return build(names, rows), nil
}

func build(names []string, rows []row) *models.Series {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].t.Before(rows[j].t) })

	merged := rows[:1]
	for _, r := range rows[1:] {
		last := &merged[len(merged)-1]
		if r.t.Equal(last.t) {
			for j, v := range r.vals {
				if !math.IsNaN(v) {
					last.vals[j] = v
				}
			}
			continue
		}
		merged = append(merged, r)
	}

	s := &models.Series{
		Times:    make([]time.Time, len(merged)),
		Channels: make(map[string][]float64, len(names)),
	}
	for i, r := range merged {
		s.Times[i] = r.t
	}
	for j, name := range names {
		col := make([]float64, len(merged))
		for i, r := range merged {
			col[i] = r.vals[j]
		}
		fillForward(col)
		fillBackward(col)
		s.Channels[name] = col
	}
	return s
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func parseValue(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "nan", "null", "none":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	// ParseFloat accepts "inf" and "infinity"; those count as missing too
	if math.IsInf(v, 0) {
		return math.NaN(), nil
	}
	return v, nil
}

func fillForward(col []float64) {
	last := math.NaN()
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = last
			continue
		}
		last = v
	}
}

func fillBackward(col []float64) {
	next := math.NaN()
	for i := len(col) - 1; i >= 0; i-- {
		if math.IsNaN(col[i]) {
			col[i] = next
			continue
		}
		next = col[i]
	}
}

// RequireChannels fails when any of names is absent or holds no values at all.
func RequireChannels(s *models.Series, names []string) error {
	var missing []string
	for _, name := range names {
		col, ok := s.Channel(name)
		if !ok || len(col) == 0 || math.IsNaN(col[0]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (export has: %s)", ErrMissingChannel,
			strings.Join(missing, ", "), strings.Join(s.ChannelNames(), ", "))
	}
	return nil
}

// Period returns the human readable month label and the sortable key of the
// first sample.
func Period(s *models.Series) (label, key string) {
	first := s.Start()
	return first.Format("January-2006"), first.Format("2006-01")
}
