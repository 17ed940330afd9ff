package suggest

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tally(counts map[SubmitterID]int) Tally {
	var t Tally
	for s, n := range counts {
		t.Add(s, n)
	}
	return t
}

func TestSuggest(t *testing.T) {
	const s1, s2, s3 SubmitterID = 1, 2, 3
	tests := []struct {
		name       string
		candidates []string
		tallies    map[string]Tally
		submitter  SubmitterID
		want       []string
	}{
		{
			name:       "self and redundancy suppression",
			candidates: []string{"P1", "P2", "P3"},
			tallies: map[string]Tally{
				"P1": tally(map[SubmitterID]int{s1: 1}),
				"P2": tally(map[SubmitterID]int{s2: 1, s3: 1}),
			},
			submitter: s1,
			want:      []string{"P3"},
		},
		{
			name:       "anonymous skips self suppression",
			candidates: []string{"P1", "P2", "P3"},
			tallies: map[string]Tally{
				"P1": tally(map[SubmitterID]int{s1: 1}),
				"P2": tally(map[SubmitterID]int{s2: 1, s3: 1}),
			},
			submitter: Anonymous,
			want:      []string{"P1", "P3"},
		},
		{
			name:       "other submitter keeps single builds",
			candidates: []string{"P1"},
			tallies:    map[string]Tally{"P1": tally(map[SubmitterID]int{s1: 1})},
			submitter:  s2,
			want:       []string{"P1"},
		},
		{
			name:       "repeats from one submitter count as redundant",
			candidates: []string{"P1"},
			tallies:    map[string]Tally{"P1": tally(map[SubmitterID]int{s2: 2})},
			submitter:  s1,
			want:       []string{},
		},
		{
			name:       "duplicates removed in order",
			candidates: []string{"P3", "P1", "P3", "P2"},
			submitter:  s1,
			want:       []string{"P3", "P1", "P2"},
		},
		{
			name:      "empty",
			submitter: s1,
			want:      []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.candidates, tt.tallies, tt.submitter))
		})
	}
}

func TestSampleBounded(t *testing.T) {
	candidates := make([]string, 1000)
	for i := range candidates {
		candidates[i] = fmt.Sprintf("/nix/store/%04d-pkg", i)
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		got := Sample(candidates, DefaultSampleSize, rng)
		require.Len(t, got, DefaultSampleSize)
		seen := make(map[string]struct{}, len(got))
		for _, p := range got {
			assert.NotContains(t, seen, p)
			seen[p] = struct{}{}
		}
	}
	assert.Len(t, candidates, 1000)
	assert.Equal(t, "/nix/store/0000-pkg", candidates[0])
}

func TestSampleSmall(t *testing.T) {
	items := []int{1, 2, 3}
	got := Sample(items, DefaultSampleSize, nil)
	assert.ElementsMatch(t, items, got)
	assert.Empty(t, Sample([]int{}, DefaultSampleSize, nil))
	assert.Empty(t, Sample([]int{1, 2}, 0, nil))
}

func TestSampleDeterministicWithSeed(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f"}
	first := Sample(items, 3, rand.New(rand.NewPCG(7, 7)))
	second := Sample(items, 3, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, first, second)
}
