package metrics

// Accum keeps running sums of named values across the steps of an epoch.
// Callers add per-step contributions and read the map back out as events.
type Accum struct {
	Sums  map[string]float64
	Order []string `desc:"insertion order, so emitted events are stable"`
}

func NewAccum() *Accum {
	return &Accum{Sums: make(map[string]float64)}
}

// Add accumulates value into the named sum.
func (ac *Accum) Add(name string, value float64) {
	if _, ok := ac.Sums[name]; !ok {
		ac.Order = append(ac.Order, name)
	}
	ac.Sums[name] += value
}

// Scale multiplies every sum by factor, e.g. 1/steps for averaging.
func (ac *Accum) Scale(factor float64) {
	for name := range ac.Sums {
		ac.Sums[name] *= factor
	}
}

// Events renders the sums as events in insertion order.
func (ac *Accum) Events(mode Mode, component string) []Event {
	evs := make([]Event, 0, len(ac.Order))
	for _, name := range ac.Order {
		evs = append(evs, Scalar(mode, component, name, ac.Sums[name]))
	}
	return evs
}
