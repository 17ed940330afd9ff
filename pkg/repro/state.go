// Package repro classifies build attestations into reproducibility states.
package repro

import (
	"fmt"
)

// State is the reproducibility classification of one output path.
type State int

const (
	// NoBuilds means nobody attested the output yet.
	NoBuilds State = iota
	// OneBuild means exactly one attestation exists.
	OneBuild
	// SuccessfullyReproduced means two or more attestations all agree on one hash.
	SuccessfullyReproduced
	// PartiallyReproduced means several hashes were observed but at least one recurs.
	PartiallyReproduced
	// ConsistentlyNondeterministic means every attestation reported a different hash.
	ConsistentlyNondeterministic
)

// States lists every state in declaration order.
var States = []State{
	NoBuilds,
	OneBuild,
	SuccessfullyReproduced,
	PartiallyReproduced,
	ConsistentlyNondeterministic,
}

// Observation is one attestation reduced to what the classifier needs.
type Observation struct {
	Hash      string
	Submitter uint
}

// Classify computes the state of a multiset of observations for a single output path.
func Classify(observations []Observation) State {
	distinct := make(map[string]struct{}, len(observations))
	for _, o := range observations {
		distinct[o.Hash] = struct{}{}
	}
	return ClassifyCounts(len(observations), len(distinct))
}

// ClassifyCounts computes the state from the number of attestations and the number of
// distinct hashes among them. Branches are evaluated in order and the first match wins.
func ClassifyCounts(total, distinct int) State {
	switch {
	case total <= 0:
		return NoBuilds
	case total == 1:
		return OneBuild
	case distinct == 1:
		return SuccessfullyReproduced
	case distinct < total:
		return PartiallyReproduced
	default:
		return ConsistentlyNondeterministic
	}
}

// String returns the stable wire name of the state.
func (s State) String() string {
	switch s {
	case NoBuilds:
		return "NoBuilds"
	case OneBuild:
		return "OneBuild"
	case SuccessfullyReproduced:
		return "SuccessfullyReproduced"
	case PartiallyReproduced:
		return "PartiallyReproduced"
	case ConsistentlyNondeterministic:
		return "ConsistentlyNondeterministic"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Label returns the human readable text used by the text and HTML views.
func (s State) Label() string {
	switch s {
	case NoBuilds:
		return "No builds"
	case OneBuild:
		return "One build"
	case SuccessfullyReproduced:
		return "Successfully reproduced"
	case PartiallyReproduced:
		return "Partially reproduced"
	case ConsistentlyNondeterministic:
		return "Consistently nondeterministic"
	}
	return ""
}

// Icon returns the status glyph shown next to a node.
func (s State) Icon() string {
	switch s {
	case NoBuilds:
		return "❔"
	case OneBuild:
		return "❎"
	case SuccessfullyReproduced:
		return "✅"
	case PartiallyReproduced:
		return "❕"
	case ConsistentlyNondeterministic:
		return "❌"
	}
	return ""
}

// Priority is the sort key of the flat view: reproduced first, then failed, then unchecked.
func (s State) Priority() int {
	switch s {
	case SuccessfullyReproduced:
		return 0
	case PartiallyReproduced, ConsistentlyNondeterministic:
		return 1
	case NoBuilds, OneBuild:
		return 2
	}
	return 3
}

// Reproduced reports whether the state counts as reproducible.
func (s State) Reproduced() bool { return s == SuccessfullyReproduced }

// NotReproduced reports whether independent builds disagreed.
func (s State) NotReproduced() bool {
	return s == PartiallyReproduced || s == ConsistentlyNondeterministic
}

// Unchecked reports whether there are not enough builds to tell.
func (s State) Unchecked() bool { return s == NoBuilds || s == OneBuild }

// ParseState converts a wire name back into a State.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if s.String() == name {
			return s, nil
		}
	}
	return NoBuilds, fmt.Errorf("%w: unknown reproducibility state %q", ErrMalformedInput, name)
}

// MarshalText encodes the state as its wire name.
func (s State) MarshalText() ([]byte, error) {
	for _, known := range States {
		if known == s {
			return []byte(s.String()), nil
		}
	}
	return nil, fmt.Errorf("invalid reproducibility state %d", int(s))
}

// UnmarshalText decodes a wire name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
