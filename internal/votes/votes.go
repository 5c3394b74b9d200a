package votes

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/scythe504/planning-poker-backend/internal"
)

// Summary is the statistics panel shown once a round is revealed.
type Summary struct {
	Average      float64                    `json:"average"`
	HasAverage   bool                       `json:"has_average"`
	Distribution map[internal.VoteValue]int `json:"distribution"`
	MostCommon   internal.VoteValue         `json:"most_common,omitempty"`
	TotalVotes   int                        `json:"total_votes"`
}

// numeric parses a vote as a number. The coffee card and anything that does
// not parse as a finite number is not numeric.
func numeric(v internal.VoteValue) (float64, bool) {
	if v == internal.CoffeeVote {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// CalculateAverage returns the mean of the numeric votes rounded to one
// decimal place. ok is false when there are no numeric votes.
func CalculateAverage(votes map[string]internal.VoteValue) (avg float64, ok bool) {
	sum, count := 0.0, 0
	for _, v := range votes {
		f, isNum := numeric(v)
		if !isNum {
			continue
		}
		sum += f
		count++
	}
	if count == 0 {
		return 0, false
	}
	return math.Round(sum/float64(count)*10) / 10, true
}

func Distribution(votes map[string]internal.VoteValue) map[internal.VoteValue]int {
	dist := make(map[internal.VoteValue]int, len(votes))
	for _, v := range votes {
		dist[v]++
	}
	return dist
}

// deckRank orders values by their position in the deck; values outside the
// deck sort after it.
func deckRank(v internal.VoteValue) int {
	if i := slices.Index(internal.VoteOptions, v); i >= 0 {
		return i
	}
	return len(internal.VoteOptions)
}

// MostCommon returns the most frequent vote. Ties go to the value that comes
// first in the deck, then lexically, so the result does not depend on map
// iteration order.
func MostCommon(votes map[string]internal.VoteValue) (internal.VoteValue, bool) {
	dist := Distribution(votes)
	if len(dist) == 0 {
		return "", false
	}

	values := make([]internal.VoteValue, 0, len(dist))
	for v := range dist {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b internal.VoteValue) int {
		if ra, rb := deckRank(a), deckRank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(string(a), string(b))
	})

	best := values[0]
	for _, v := range values[1:] {
		if dist[v] > dist[best] {
			best = v
		}
	}
	return best, true
}

func Summarize(votes map[string]internal.VoteValue) Summary {
	avg, ok := CalculateAverage(votes)
	common, _ := MostCommon(votes)
	return Summary{
		Average:      avg,
		HasAverage:   ok,
		Distribution: Distribution(votes),
		MostCommon:   common,
		TotalVotes:   len(votes),
	}
}

// Progress returns the share of participants that voted, in whole percent.
func Progress(voted, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(voted) / float64(total) * 100))
}
