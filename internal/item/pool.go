package item

// Pool owns every Item allocated during one Setup call. Prototype, scope,
// and parent references between items are weak relative to Pool
// ownership: the pool outlives every item it hands out, so those
// back-references never need their own lifetime management (spec §9,
// "model Item as nodes in an arena").
type Pool struct {
	items []*Item
}

// NewPool creates an empty item pool.
func NewPool() *Pool {
	return &Pool{}
}

// New allocates a fresh Item of the given type at the given location,
// owned by the pool.
func (p *Pool) New(t Type, loc CodeLocation) *Item {
	it := &Item{
		id:         len(p.items) + 1,
		Type:       t,
		Loc:        loc,
		Properties: make(map[string]*Value),
	}
	p.items = append(p.items, it)
	return it
}

// Len reports how many items the pool has allocated.
func (p *Pool) Len() int { return len(p.items) }

// All returns every item the pool owns, in allocation order. Useful for
// diagnostics and tests; callers must not mutate the slice.
func (p *Pool) All() []*Item {
	return p.items
}
