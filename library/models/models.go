// Package models provides small linear baseline implementations of the
// three agent components. They stand in for the real neural
// architectures, which live outside this repository, so the orchestrator
// can run and be exercised end to end.
package models

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/Astera-org/imagent/library/agent"
)

// Component identities used to namespace metrics.
const (
	TokenizerName   = "tokenizer"
	WorldModelName  = "world_model"
	ActorCriticName = "actor_critic"
)

// Encoder maps one observation vector to a latent vector.
type Encoder interface {
	EncodeStep(obs []float64) []float64
}

// Decoder maps one latent vector back to an observation vector.
type Decoder interface {
	DecodeStep(z []float64) []float64
}

// StepPredictor predicts the next latent, reward and termination
// probability from a latent and a discrete action.
type StepPredictor interface {
	PredictStep(z []float64, action int) (next []float64, reward, end float64)
}

// matView views a flat parameter vector as an r x c matrix sharing the
// same backing storage.
func matView(p *agent.Param, r, c int) *mat.Dense {
	return mat.NewDense(r, c, p.Data.RawVector().Data)
}

// initParam fills a parameter with small random weights.
func initParam(p *agent.Param, rng *rand.Rand, scale float64) {
	for i := 0; i < p.Data.Len(); i++ {
		p.Data.SetVec(i, (rng.Float64()*2-1)*scale)
	}
}

// gradCache accumulates a gradient contribution during ComputeLoss so
// Backward can add it, scaled, into the parameter gradients.
type gradCache map[string][]float64

func newGradCache(params []*agent.Param) gradCache {
	gc := make(gradCache, len(params))
	for _, p := range params {
		gc[p.Name] = make([]float64, p.Data.Len())
	}
	return gc
}

func (gc gradCache) addTo(params []*agent.Param, scale float64) {
	for _, p := range params {
		pending := gc[p.Name]
		if pending == nil {
			continue
		}
		for i, g := range pending {
			p.Grad.SetVec(i, p.Grad.AtVec(i)+scale*g)
		}
	}
}

func softmax(logits []float64) []float64 {
	max := math.Inf(-1)
	for _, l := range logits {
		if l > max {
			max = l
		}
	}
	var sum float64
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(l - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(vals []float64) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
