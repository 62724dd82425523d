package metrics

import "github.com/goki/ki/kit"

// Mode says which phase of the run produced a metric event.
type Mode int32

//go:generate stringer -type=Mode

var KiT_Mode = kit.Enums.AddEnum(ModeN, kit.NotBitFlag, nil)

func (m Mode) MarshalJSON() ([]byte, error)  { return kit.EnumMarshalJSON(m) }
func (m *Mode) UnmarshalJSON(b []byte) error { return kit.EnumUnmarshalJSON(m, b) }

const (
	// UnknownMode is for scheduler-level events that belong to no phase,
	// like the epoch duration.
	UnknownMode Mode = iota

	// Train is a training phase event.
	Train

	// Eval is a held-out evaluation phase event.
	Eval

	// Imagination is an imagined-rollout inspection event.
	Imagination

	ModeN
)
