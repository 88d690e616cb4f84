package timeline

import (
	"cmp"
	"slices"
)

// DragState describes an in-progress drag whose neighbours are pinned.
type DragState struct {
	// ID of the event being dragged. Its entry in the events passed to
	// Compute is the live candidate position.
	ID string

	// Pinned is the layout captured when the drag began. Every other event
	// with an entry keeps that column.
	Pinned Layout

	// Partners holds the events that overlapped the dragged one when the
	// drag began.
	Partners IDSet

	// Broken holds pairs that overlapped at drag start and have separated
	// at some point since.
	Broken PairSet
}

// pinnedColumn returns the snapshot placement of id, never for the
// dragged event itself. A nil receiver pins nothing.
func (d *DragState) pinnedColumn(id string) (LayoutInfo, bool) {
	if d == nil || id == d.ID {
		return LayoutInfo{}, false
	}
	info, ok := d.Pinned[id]
	return info, ok
}

// searchFloor returns the first column the dragged event may occupy: one
// past every pinned neighbour it is intruding on, either because the
// neighbour was not an original partner or because the pair separated and
// has now re-entered overlap.
func (d *DragState) searchFloor(dragged Event, cluster []Event) int {
	floor := 0
	for _, n := range cluster {
		if n.ID == dragged.ID || !n.Overlaps(dragged) {
			continue
		}
		info, ok := d.pinnedColumn(n.ID)
		if !ok {
			continue
		}
		newcomer := !d.Partners.Has(n.ID)
		reentered := d.Broken.Has(dragged.ID, n.ID)
		if newcomer || reentered {
			floor = max(floor, info.Column+1)
		}
	}
	return floor
}

// Options carries the non-event inputs of a layout computation.
type Options struct {
	// Ranks orders events within a cluster. Nil orders by time only.
	Ranks Ranks

	// Drag, when non-nil and carrying a pinned snapshot, locks every other
	// event to its snapshot column. A drag without a snapshot lays out
	// exactly like the resting state.
	Drag *DragState
}

func (o Options) lockedDrag() *DragState {
	if o.Drag == nil || o.Drag.Pinned == nil {
		return nil
	}
	return o.Drag
}

// Compute lays out one day's events. Every event in events has an entry in
// the result.
func Compute(events []Event, opts Options) Layout {
	out := make(Layout, len(events))
	for _, cluster := range BuildClusters(events) {
		layoutCluster(cluster, opts, out)
	}
	return out
}

func layoutCluster(cluster []Event, opts Options, out Layout) {
	drag := opts.lockedDrag()

	if len(cluster) == 1 {
		e := cluster[0]
		if _, pinned := drag.pinnedColumn(e.ID); !pinned {
			out[e.ID] = LayoutInfo{Column: 0, TotalColumns: 1, Span: 1}
			return
		}
	}

	draggedID := ""
	if drag != nil {
		draggedID = drag.ID
	}
	order := insertionOrder(cluster, opts.Ranks, draggedID)

	g := newGrid()
	total := 0

	// Pinned events go first so that greedy placements (including events
	// added after the snapshot was taken) can never land on top of them.
	free := make([]Event, 0, len(order))
	for _, e := range order {
		if info, ok := drag.pinnedColumn(e.ID); ok {
			g.place(e, info.Column)
			total = max(total, info.TotalColumns)
			continue
		}
		free = append(free, e)
	}
	for _, e := range free {
		floor := 0
		if drag != nil && e.ID == drag.ID {
			floor = drag.searchFloor(e, cluster)
		}
		g.place(e, g.firstFit(e, floor))
	}

	total = max(total, g.width())
	for _, e := range cluster {
		col := g.column[e.ID]
		out[e.ID] = LayoutInfo{
			Column:       col,
			TotalColumns: total,
			Span:         g.span(e, col, total),
		}
	}
}

// insertionOrder sorts a cluster for placement: by rank, then start, then
// longer first, with the dragged event always last.
func insertionOrder(cluster []Event, ranks Ranks, draggedID string) []Event {
	order := slices.Clone(cluster)
	slices.SortFunc(order, func(a, b Event) int {
		if ad, bd := a.ID == draggedID, b.ID == draggedID; ad != bd {
			if ad {
				return 1
			}
			return -1
		}
		return cmp.Or(
			cmp.Compare(rankOrLast(ranks, a.ID), rankOrLast(ranks, b.ID)),
			cmp.Compare(a.StartMinute, b.StartMinute),
			cmp.Compare(b.Duration(), a.Duration()),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return order
}
