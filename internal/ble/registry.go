package ble

// Registry is the ordered set of discovered peripherals, keyed by ID.
// It is not safe for concurrent use; the Session guards it.
type Registry struct {
	order []Peripheral
	index map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Record adds p if its ID is not yet known and reports whether it was new.
// A repeat discovery refreshes the stored name and RSSI.
func (r *Registry) Record(p Peripheral) bool {
	if i, ok := r.index[p.ID]; ok {
		r.order[i] = p
		return false
	}
	r.index[p.ID] = len(r.order)
	r.order = append(r.order, p)
	return true
}

// IsReady reports whether exactly required peripherals have been discovered.
// More than required is not ready.
func (r *Registry) IsReady(required int) bool {
	return len(r.order) == required
}

// Handles returns a snapshot of the discovered peripherals in discovery order.
func (r *Registry) Handles() []Peripheral {
	out := make([]Peripheral, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of discovered peripherals.
func (r *Registry) Len() int {
	return len(r.order)
}

// Clear forgets all discovered peripherals.
func (r *Registry) Clear() {
	r.order = r.order[:0]
	clear(r.index)
}
