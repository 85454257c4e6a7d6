package analysis

import (
	"github.com/lox/biogasreport/internal/models"
)

// DefaultFaultCodes are the status values that mean tripped.
var DefaultFaultCodes = []float64{90, 99}

// Segment scans channel in time order and returns the runs where it holds
// one of faultCodes. An episode is closed by the first sample that is not a
// fault; one still open at the last sample ends there and is marked
// Unterminated.
func Segment(s *models.Series, channel string, faultCodes ...float64) ([]models.Episode, error) {
	col, ok := s.Channel(channel)
	if !ok {
		return nil, missingChannel(channel)
	}
	if len(faultCodes) == 0 {
		faultCodes = DefaultFaultCodes
	}
	codes := codeSet(faultCodes)

	var episodes []models.Episode
	open := -1
	for i, v := range col {
		inFault := codes[v]
		switch {
		case inFault && open < 0:
			open = i
		case !inFault && open >= 0:
			episodes = append(episodes, closeEpisode(s, channel, open, i, false))
			open = -1
		}
	}
	if open >= 0 {
		episodes = append(episodes, closeEpisode(s, channel, open, len(col)-1, true))
	}
	return episodes, nil
}

func closeEpisode(s *models.Series, channel string, start, end int, unterminated bool) models.Episode {
	return models.Episode{
		Channel:      channel,
		Start:        s.Times[start],
		End:          s.Times[end],
		Duration:     s.Times[end].Sub(s.Times[start]),
		Unterminated: unterminated,
	}
}

func codeSet(codes []float64) map[float64]bool {
	set := make(map[float64]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
