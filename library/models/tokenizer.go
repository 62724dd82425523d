package models

import (
	"math/rand"

	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/data"
)

// Tokenizer is a linear autoencoder: observations are projected to a
// latent vector and back. The latent plays the role of the discrete
// token representation in the full system.
type Tokenizer struct {
	ObsDim      int
	LatentDim   int
	LatentCoef  float64 `desc:"weight of the latent norm penalty"`
	encW        *agent.Param
	decW        *agent.Param
	pendingGrad gradCache
	training    bool
}

func NewTokenizer(obsDim, latentDim int, seed int64) *Tokenizer {
	tk := &Tokenizer{
		ObsDim:     obsDim,
		LatentDim:  latentDim,
		LatentCoef: 0.01,
		encW:       agent.NewParam("enc_w", latentDim*obsDim),
		decW:       agent.NewParam("dec_w", obsDim*latentDim),
	}
	rng := rand.New(rand.NewSource(seed))
	initParam(tk.encW, rng, 0.1)
	initParam(tk.decW, rng, 0.1)
	return tk
}

func (tk *Tokenizer) Name() string             { return TokenizerName }
func (tk *Tokenizer) Parameters() []*agent.Param { return []*agent.Param{tk.encW, tk.decW} }
func (tk *Tokenizer) Train()                   { tk.training = true }
func (tk *Tokenizer) Eval()                    { tk.training = false }

// EncodeStep projects one observation to its latent.
func (tk *Tokenizer) EncodeStep(obs []float64) []float64 {
	w := matView(tk.encW, tk.LatentDim, tk.ObsDim)
	z := make([]float64, tk.LatentDim)
	for k := 0; k < tk.LatentDim; k++ {
		var s float64
		for d := 0; d < tk.ObsDim; d++ {
			s += w.At(k, d) * obs[d]
		}
		z[k] = s
	}
	return z
}

// DecodeStep projects one latent back to observation space.
func (tk *Tokenizer) DecodeStep(z []float64) []float64 {
	v := matView(tk.decW, tk.ObsDim, tk.LatentDim)
	x := make([]float64, tk.ObsDim)
	for d := 0; d < tk.ObsDim; d++ {
		var s float64
		for k := 0; k < tk.LatentDim; k++ {
			s += v.At(d, k) * z[k]
		}
		x[d] = s
	}
	return x
}

func (tk *Tokenizer) obsAt(b *data.Batch, n, t int) []float64 {
	d := b.ObsDim()
	obs := make([]float64, d)
	for i := 0; i < d; i++ {
		obs[i] = float64(b.Observations.Values[(n*b.SeqLen()+t)*d+i])
	}
	return obs
}

// ComputeLoss computes the masked mean reconstruction error plus a small
// latent norm penalty, and caches the gradient contribution.
func (tk *Tokenizer) ComputeLoss(b *data.Batch, ctx agent.LossContext) (*agent.LossBundle, error) {
	gc := newGradCache(tk.Parameters())
	gwPending := gc["enc_w"]
	gvPending := gc["dec_w"]
	v := matView(tk.decW, tk.ObsDim, tk.LatentDim)

	var reconLoss, latentLoss float64
	count := 0
	for n := 0; n < b.NumSamples(); n++ {
		for t := 0; t < b.SeqLen(); t++ {
			if b.Mask.Values[n*b.SeqLen()+t] == 0 {
				continue
			}
			count++
			obs := tk.obsAt(b, n, t)
			z := tk.EncodeStep(obs)
			xhat := tk.DecodeStep(z)

			dz := make([]float64, tk.LatentDim)
			for d := 0; d < tk.ObsDim; d++ {
				diff := xhat[d] - obs[d]
				reconLoss += diff * diff / float64(tk.ObsDim)
				dx := 2 * diff / float64(tk.ObsDim)
				for k := 0; k < tk.LatentDim; k++ {
					gvPending[d*tk.LatentDim+k] += dx * z[k]
					dz[k] += v.At(d, k) * dx
				}
			}
			for k := 0; k < tk.LatentDim; k++ {
				latentLoss += tk.LatentCoef * z[k] * z[k] / float64(tk.LatentDim)
				dz[k] += 2 * tk.LatentCoef * z[k] / float64(tk.LatentDim)
				for d := 0; d < tk.ObsDim; d++ {
					gwPending[k*tk.ObsDim+d] += dz[k] * obs[d]
				}
			}
		}
	}
	if count == 0 {
		count = 1
	}
	reconLoss /= float64(count)
	latentLoss /= float64(count)
	for i := range gwPending {
		gwPending[i] /= float64(count)
	}
	for i := range gvPending {
		gvPending[i] /= float64(count)
	}
	tk.pendingGrad = gc

	return &agent.LossBundle{
		Total: reconLoss + latentLoss,
		Losses: map[string]float64{
			"reconstruction_loss": reconLoss,
			"latent_loss":         latentLoss,
		},
	}, nil
}

// Backward adds the cached gradient contribution, scaled, into the
// parameter gradients.
func (tk *Tokenizer) Backward(scale float64) {
	if tk.pendingGrad == nil {
		return
	}
	tk.pendingGrad.addTo(tk.Parameters(), scale)
}

// Reconstruct round-trips a batch's observations through the encoder and
// decoder, for visualization.
func (tk *Tokenizer) Reconstruct(b *data.Batch) (*etensor.Float32, error) {
	d := b.ObsDim()
	out := etensor.NewFloat32([]int{b.NumSamples(), b.SeqLen(), d}, nil, []string{"Sample", "Time", "Obs"})
	for n := 0; n < b.NumSamples(); n++ {
		for t := 0; t < b.SeqLen(); t++ {
			xhat := tk.DecodeStep(tk.EncodeStep(tk.obsAt(b, n, t)))
			for i := 0; i < d; i++ {
				out.Values[(n*b.SeqLen()+t)*d+i] = float32(xhat[i])
			}
		}
	}
	return out, nil
}
