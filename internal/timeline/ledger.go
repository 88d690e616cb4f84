package timeline

import (
	"cmp"
	"math"
	"slices"
)

// Ranks is read access to per-event ordering keys. Lower ranks claim lower
// columns first.
type Ranks interface {
	Rank(id string) (int, bool)
}

// Ledger is a session-scoped rank table. Entries are created the first time
// an event is registered and rewritten in bulk after a drag; the ledger is
// never reset and never shrinks.
//
// A Ledger is not safe for concurrent use.
type Ledger struct {
	ranks map[string]int
	next  int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{ranks: make(map[string]int), next: 1}
}

// LedgerFrom restores a ledger from persisted ranks.
func LedgerFrom(ranks map[string]int) *Ledger {
	l := NewLedger()
	for id, r := range ranks {
		l.ranks[id] = r
		l.next = max(l.next, r+1)
	}
	return l
}

// Rank returns the rank of id and whether it has one.
func (l *Ledger) Rank(id string) (int, bool) {
	if l == nil {
		return 0, false
	}
	r, ok := l.ranks[id]
	return r, ok
}

// Len returns the number of ranked IDs.
func (l *Ledger) Len() int {
	return len(l.ranks)
}

// Register appends ranks for events not yet in the ledger, in creation
// order with ties broken by ID. Known events keep their rank.
func (l *Ledger) Register(events []Event) {
	var unseen []Event
	for _, e := range events {
		if _, ok := l.ranks[e.ID]; !ok {
			unseen = append(unseen, e)
		}
	}
	if len(unseen) == 0 {
		return
	}
	slices.SortFunc(unseen, func(a, b Event) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ID, b.ID))
	})
	for _, e := range unseen {
		if _, ok := l.ranks[e.ID]; ok {
			continue // duplicate within this batch
		}
		l.ranks[e.ID] = l.next
		l.next++
	}
}

// Rerank rewrites the ranks of every event in layout so that their left to
// right column order becomes their priority order: IDs are sorted by
// (column, existing rank, id) and assigned 1..N.
func (l *Ledger) Rerank(layout Layout) {
	ids := make([]string, 0, len(layout))
	for id := range layout {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(layout[a].Column, layout[b].Column),
			cmp.Compare(rankOrLast(l, a), rankOrLast(l, b)),
			cmp.Compare(a, b),
		)
	})
	for i, id := range ids {
		l.ranks[id] = i + 1
	}
	l.next = max(l.next, len(ids)+1)
}

// Snapshot returns a copy of the ledger's entries for persistence.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.ranks))
	for id, r := range l.ranks {
		out[id] = r
	}
	return out
}

// rankOrLast orders IDs without a rank after every ranked ID.
func rankOrLast(r Ranks, id string) int {
	if r == nil {
		return math.MaxInt
	}
	if v, ok := r.Rank(id); ok {
		return v
	}
	return math.MaxInt
}
