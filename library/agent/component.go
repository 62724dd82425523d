// Package agent defines the contracts between the training orchestrator
// and the three model components, plus the combined agent state.
package agent

import (
	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/data"
)

// LossBundle is the result of one loss computation: a total scalar plus
// named sub-losses. The orchestrator aggregates these, it never defines
// their semantics.
type LossBundle struct {
	Total  float64
	Losses map[string]float64
}

// LossContext carries frozen upstream components into a downstream loss
// computation: the world model needs the already-updated tokenizer, the
// actor-critic needs both. A component that requires a context entry and
// does not get it must fail immediately, this is a configuration error.
type LossContext struct {
	Tokenizer  Component
	WorldModel Component
}

// Component is one trainable model component. ComputeLoss caches whatever
// forward state Backward needs; Backward adds the gradient of the last
// computed loss, scaled, into the parameters' Grad vectors.
type Component interface {
	// Name is the stable identity used to namespace metrics.
	Name() string

	ComputeLoss(b *data.Batch, ctx LossContext) (*LossBundle, error)

	Backward(scale float64)

	Parameters() []*Param

	// Train and Eval toggle training vs. evaluation mode.
	Train()
	Eval()
}

// Imaginer rolls out synthetic trajectories with the policy and the world
// model, starting from real burn-in contexts. The result is a batch of
// rollouts of horizon steps with an all-valid mask.
type Imaginer interface {
	Imagine(b *data.Batch, tok, wm Component, horizon int) (*data.Batch, error)
}

// Reconstructor exposes a tokenizer's encode-decode round trip for
// visualization, returning reconstructed observations shaped like the
// batch's observations.
type Reconstructor interface {
	Reconstruct(b *data.Batch) (*etensor.Float32, error)
}

// Actor selects a discrete action for one observation, used during
// environment collection.
type Actor interface {
	Act(obs []float32) (int, error)
}
