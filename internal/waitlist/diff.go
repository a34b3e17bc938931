package waitlist

// Reorder is a passenger whose rank changed, positions are 1-based.
type Reorder struct {
	Passenger string
	OldPos    int
	NewPos    int
}

// Moved is positive when the passenger moved towards the front.
func (r Reorder) Moved() int {
	return r.OldPos - r.NewPos
}

// Changes is the difference between two consecutive orders of a waitlist.
type Changes struct {
	Added     []string
	Removed   []string
	Reordered []Reorder
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Reordered) == 0
}

func positions(order []string) map[string]int {
	out := make(map[string]int, len(order))
	for i, p := range order {
		if _, seen := out[p]; seen {
			continue
		}
		out[p] = i
	}
	return out
}

// Diff compares two orders. Added and Removed keep the order they have in
// newOrder and oldOrder respectively, Reordered follows newOrder.
func Diff(oldOrder, newOrder []string) Changes {
	oldPos := positions(oldOrder)
	newPos := positions(newOrder)

	changes := Changes{
		Added:     []string{},
		Removed:   []string{},
		Reordered: []Reorder{},
	}
	for i, p := range newOrder {
		if newPos[p] != i {
			continue
		}
		prev, ok := oldPos[p]
		if !ok {
			changes.Added = append(changes.Added, p)
			continue
		}
		if prev != i {
			changes.Reordered = append(changes.Reordered, Reorder{
				Passenger: p,
				OldPos:    prev + 1,
				NewPos:    i + 1,
			})
		}
	}
	for i, p := range oldOrder {
		if oldPos[p] != i {
			continue
		}
		if _, ok := newPos[p]; !ok {
			changes.Removed = append(changes.Removed, p)
		}
	}
	return changes
}
