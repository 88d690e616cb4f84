package timeline

// Pair is an unordered pair of event IDs, stored with A <= B.
type Pair struct {
	A, B string
}

// MakePair normalises (a, b) so that MakePair(a, b) == MakePair(b, a).
func MakePair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// PairSet is a set of unordered ID pairs.
type PairSet map[Pair]struct{}

// Add inserts the pair (a, b).
func (s PairSet) Add(a, b string) {
	s[MakePair(a, b)] = struct{}{}
}

// Has reports whether the pair (a, b) is present. A nil set is empty.
func (s PairSet) Has(a, b string) bool {
	_, ok := s[MakePair(a, b)]
	return ok
}

// IDSet is a set of event IDs.
type IDSet map[string]struct{}

// Has reports whether id is present. A nil set is empty.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// OverlapPartners returns the IDs of every event in events that overlaps ev.
func OverlapPartners(ev Event, events []Event) IDSet {
	out := make(IDSet)
	for _, o := range events {
		if o.ID != ev.ID && ev.Overlaps(o) {
			out[o.ID] = struct{}{}
		}
	}
	return out
}
