// Package suggest picks outputs that still need independent rebuilds.
package suggest

import (
	"math/rand/v2"
)

// SubmitterID identifies a submitter. Anonymous disables self-suppression.
type SubmitterID uint

// Anonymous is the id used when a request carries no resolvable submitter.
const Anonymous SubmitterID = 0

// RedundancyThreshold is the attestation count above which a path is no longer
// suggested. Repeated attestations from one submitter count toward it.
const RedundancyThreshold = 1

// DefaultSampleSize bounds the number of suggestions handed out per request.
const DefaultSampleSize = 50

// Tally is the attestation count of one output path.
type Tally struct {
	Total       int
	BySubmitter map[SubmitterID]int
}

// Add records n attestations by submitter.
func (t *Tally) Add(submitter SubmitterID, n int) {
	if t.BySubmitter == nil {
		t.BySubmitter = make(map[SubmitterID]int)
	}
	t.BySubmitter[submitter] += n
	t.Total += n
}

// Suggest filters candidates down to the paths worth rebuilding: paths the
// submitter already attested are dropped, then paths with more than
// RedundancyThreshold attestations overall. Candidate order is kept and
// duplicates are removed. Paths missing from tallies have no attestations.
func Suggest(candidates []string, tallies map[string]Tally, submitter SubmitterID) []string {
	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, path := range candidates {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		tally := tallies[path]
		if submitter != Anonymous && tally.BySubmitter[submitter] > 0 {
			continue
		}
		if tally.Total > RedundancyThreshold {
			continue
		}
		out = append(out, path)
	}
	return out
}

// Sample returns at most limit items from a uniformly shuffled copy of items.
// A nil rng uses the global source.
func Sample[T any](items []T, limit int, rng *rand.Rand) []T {
	shuffled := append([]T(nil), items...)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if limit >= 0 && len(shuffled) > limit {
		shuffled = shuffled[:limit]
	}
	return shuffled
}
