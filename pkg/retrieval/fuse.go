package retrieval

import (
	"sort"

	"github.com/corralproject/corral/pkg/models"
)

// DefaultRRFK is the reciprocal-rank-fusion smoothing constant.
const DefaultRRFK = 60.0

// RankedList is one ranked input to fusion. A zero Weight counts as 1.0.
type RankedList struct {
	Hits   []models.Candidate
	Weight float64
}

type fusedEntry struct {
	cand      models.Candidate
	score     float64
	firstRank int
}

// FuseRRF combines ranked lists by reciprocal rank fusion: an item at
// zero-based rank r in a list of weight w contributes w/(r+k). Output is
// sorted by descending score; ties break by the lower rank at which the item
// was first seen, then by lexical ID. Payload fields come from the first
// sighting that carries text.
func FuseRRF(lists []RankedList, k float64) []models.Candidate {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := make(map[string]*fusedEntry)
	var order []string

	for _, list := range lists {
		w := list.Weight
		if w == 0 {
			w = 1
		}
		for rank, c := range list.Hits {
			entry, ok := byID[c.ID]
			if !ok {
				entry = &fusedEntry{cand: c, firstRank: rank}
				byID[c.ID] = entry
				order = append(order, c.ID)
			} else if entry.cand.Text == "" && c.Text != "" {
				entry.cand = c
			}
			entry.score += w / (float64(rank) + k)
		}
	}

	out := make([]models.Candidate, 0, len(order))
	for _, id := range order {
		e := byID[id]
		e.cand.Score = e.score
		out = append(out, e.cand)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		fi, fj := byID[out[i].ID].firstRank, byID[out[j].ID].firstRank
		if fi != fj {
			return fi < fj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
