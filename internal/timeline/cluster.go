package timeline

import (
	"cmp"
	"slices"
)

// BuildClusters partitions events into maximal groups connected by chains of
// pairwise overlaps. Events in different clusters never overlap.
//
// Events are swept in start order (longer first on ties) while tracking the
// running maximum end of the current cluster; an event whose start is at or
// past that maximum opens a new cluster.
func BuildClusters(events []Event) [][]Event {
	if len(events) == 0 {
		return nil
	}

	sorted := slices.Clone(events)
	slices.SortFunc(sorted, func(a, b Event) int {
		return cmp.Or(
			cmp.Compare(a.StartMinute, b.StartMinute),
			cmp.Compare(b.Duration(), a.Duration()),
			cmp.Compare(a.ID, b.ID),
		)
	})

	var clusters [][]Event
	var current []Event
	maxEnd := 0
	for _, e := range sorted {
		if len(current) > 0 && e.StartMinute >= maxEnd {
			clusters = append(clusters, current)
			current = nil
		}
		if len(current) == 0 {
			maxEnd = e.EndMinute
		}
		current = append(current, e)
		maxEnd = max(maxEnd, e.EndMinute)
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}
