// Package metrics carries typed metric events from the trainer to a sink.
// Events stay structured inside the orchestrator; the flat string names
// like "tokenizer/train/total_loss" are only formed at the sink boundary.
package metrics

import (
	"strings"

	"github.com/emer/etable/etensor"
)

// Event is one scalar (or histogram) metric produced during an epoch.
type Event struct {
	Mode      Mode           `desc:"phase of the run that produced this event"`
	Component string         `desc:"component identity, empty for scheduler-level events"`
	Name      string         `desc:"metric name within the component and mode"`
	Value     float64        `desc:"scalar value"`
	Hist      *etensor.Int64 `desc:"optional histogram payload, e.g. action usage counts"`
}

// Scalar is shorthand for a plain scalar event.
func Scalar(mode Mode, component, name string, value float64) Event {
	return Event{Mode: mode, Component: component, Name: name, Value: value}
}

// Key formats the flat metric name. Imagination events are namespaced by
// mode only, matching how rollout diagnostics are reported; events with no
// component and no mode (e.g. duration) keep their bare name.
func (ev Event) Key() string {
	switch {
	case ev.Mode == Imagination:
		return "imagination/" + ev.Name
	case ev.Component == "" && ev.Mode == UnknownMode:
		return ev.Name
	default:
		return ev.Component + "/" + strings.ToLower(ev.Mode.String()) + "/" + ev.Name
	}
}
