package hyper

import (
	"fmt"
	"math/rand"
	"strings"
)

// Set is one concrete assignment of hyperparameters, drawn from a Space.
// Position carries meaning: the arity and interpretation of each slot depend
// on the model family the search was built for. Immutable once drawn.
type Set []int

// String renders the set in "(a, b, c)" form for logs and ledgers.
func (s Set) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Equal reports whether two sets carry the same values in the same order.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	copy(out, s)
	return out
}

func (s Set) key() string {
	return s.String()
}

// Space enumerates the Cartesian product of the per-dimension candidate
// lists, collapses exact duplicate tuples, and returns the survivors in a
// uniformly random order drawn from rng. Duplicates arise when two dimensions
// share a value list, as in the skip-connection family's (hidden, hidden,
// kernel) pattern. The permutation is fixed for a given rng state, so a
// seeded search enumerates configurations deterministically.
func Space(rng *rand.Rand, lists ...[]int) []Set {
	product := cartesian(lists)

	seen := make(map[string]struct{}, len(product))
	unique := make([]Set, 0, len(product))
	for _, s := range product {
		k := s.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, s)
	}

	rng.Shuffle(len(unique), func(i, j int) {
		unique[i], unique[j] = unique[j], unique[i]
	})
	return unique
}

func cartesian(lists [][]int) []Set {
	if len(lists) == 0 {
		return nil
	}
	for _, l := range lists {
		if len(l) == 0 {
			return nil
		}
	}

	out := []Set{{}}
	for _, list := range lists {
		next := make([]Set, 0, len(out)*len(list))
		for _, prefix := range out {
			for _, v := range list {
				s := make(Set, len(prefix)+1)
				copy(s, prefix)
				s[len(prefix)] = v
				next = append(next, s)
			}
		}
		out = next
	}
	return out
}
