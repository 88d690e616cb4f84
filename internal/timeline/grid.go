package timeline

// grid tracks which events occupy which column of one cluster.
type grid struct {
	columns [][]Event
	column  map[string]int
}

func newGrid() *grid {
	return &grid{column: make(map[string]int)}
}

func (g *grid) width() int {
	return len(g.columns)
}

func (g *grid) place(e Event, col int) {
	for len(g.columns) <= col {
		g.columns = append(g.columns, nil)
	}
	g.columns[col] = append(g.columns[col], e)
	g.column[e.ID] = col
}

// fits reports whether col holds nothing that overlaps e. Columns past the
// current width are empty.
func (g *grid) fits(e Event, col int) bool {
	if col >= len(g.columns) {
		return true
	}
	for _, o := range g.columns[col] {
		if o.ID != e.ID && o.Overlaps(e) {
			return false
		}
	}
	return true
}

// firstFit returns the first column at or after floor that can take e,
// opening a new column at the end when none can.
func (g *grid) firstFit(e Event, floor int) int {
	for col := floor; col < len(g.columns); col++ {
		if g.fits(e, col) {
			return col
		}
	}
	return max(floor, len(g.columns))
}

// span counts how many columns e can cover starting at col, widening into
// every following column that has no overlapping occupant.
func (g *grid) span(e Event, col, total int) int {
	span := 1
	for c := col + 1; c < total && g.fits(e, c); c++ {
		span++
	}
	return span
}
