package models

import (
	"fmt"
	"math/rand"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/data"
)

// WorldModel is a linear next-step predictor in latent space: given the
// tokenizer's latent for the current observation and a one-hot action, it
// predicts the next latent, the reward and the termination probability.
type WorldModel struct {
	LatentDim  int
	NumActions int

	obsW        *agent.Param
	rewardW     *agent.Param
	endW        *agent.Param
	pendingGrad gradCache
	training    bool
}

func NewWorldModel(latentDim, numActions int, seed int64) *WorldModel {
	f := latentDim + numActions + 1
	wm := &WorldModel{
		LatentDim:  latentDim,
		NumActions: numActions,
		obsW:       agent.NewParam("obs_w", latentDim*f),
		rewardW:    agent.NewParam("reward_w", f),
		endW:       agent.NewParam("end_w", f),
	}
	rng := rand.New(rand.NewSource(seed))
	initParam(wm.obsW, rng, 0.1)
	initParam(wm.rewardW, rng, 0.1)
	initParam(wm.endW, rng, 0.1)
	return wm
}

func (wm *WorldModel) Name() string { return WorldModelName }
func (wm *WorldModel) Parameters() []*agent.Param {
	return []*agent.Param{wm.obsW, wm.rewardW, wm.endW}
}
func (wm *WorldModel) Train() { wm.training = true }
func (wm *WorldModel) Eval()  { wm.training = false }

// features builds [z, onehot(action), 1].
func (wm *WorldModel) features(z []float64, action int) []float64 {
	f := make([]float64, wm.LatentDim+wm.NumActions+1)
	copy(f, z)
	if action >= 0 && action < wm.NumActions {
		f[wm.LatentDim+action] = 1
	}
	f[len(f)-1] = 1
	return f
}

// PredictStep predicts the next latent, reward, and termination
// probability from one latent and action.
func (wm *WorldModel) PredictStep(z []float64, action int) ([]float64, float64, float64) {
	f := wm.features(z, action)
	nf := len(f)
	ow := matView(wm.obsW, wm.LatentDim, nf)
	next := make([]float64, wm.LatentDim)
	for k := 0; k < wm.LatentDim; k++ {
		var s float64
		for i := 0; i < nf; i++ {
			s += ow.At(k, i) * f[i]
		}
		next[k] = s
	}
	var reward, endLogit float64
	for i := 0; i < nf; i++ {
		reward += wm.rewardW.Data.AtVec(i) * f[i]
		endLogit += wm.endW.Data.AtVec(i) * f[i]
	}
	return next, reward, sigmoid(endLogit)
}

// ComputeLoss predicts each next latent, reward and termination from the
// current step and scores against the tokenizer's encoding of the actual
// next step. The tokenizer comes frozen through the context; its absence
// is a configuration error.
func (wm *WorldModel) ComputeLoss(b *data.Batch, ctx agent.LossContext) (*agent.LossBundle, error) {
	if ctx.Tokenizer == nil {
		return nil, fmt.Errorf("world_model: loss requires a tokenizer in the context")
	}
	enc, ok := ctx.Tokenizer.(Encoder)
	if !ok {
		return nil, fmt.Errorf("world_model: tokenizer %q does not encode observations", ctx.Tokenizer.Name())
	}

	gc := newGradCache(wm.Parameters())
	gObs := gc["obs_w"]
	gReward := gc["reward_w"]
	gEnd := gc["end_w"]
	nf := wm.LatentDim + wm.NumActions + 1
	ow := matView(wm.obsW, wm.LatentDim, nf)

	var obsLoss, rewardLoss, endLoss float64
	count := 0
	seqLen := b.SeqLen()
	obsDim := b.ObsDim()
	for n := 0; n < b.NumSamples(); n++ {
		for t := 0; t < seqLen-1; t++ {
			if b.Mask.Values[n*seqLen+t] == 0 || b.Mask.Values[n*seqLen+t+1] == 0 {
				continue
			}
			count++
			cur := make([]float64, obsDim)
			next := make([]float64, obsDim)
			for i := 0; i < obsDim; i++ {
				cur[i] = float64(b.Observations.Values[(n*seqLen+t)*obsDim+i])
				next[i] = float64(b.Observations.Values[(n*seqLen+t+1)*obsDim+i])
			}
			z := enc.EncodeStep(cur)
			zNext := enc.EncodeStep(next)
			action := int(b.Actions.Values[n*seqLen+t])
			f := wm.features(z, action)

			for k := 0; k < wm.LatentDim; k++ {
				var pred float64
				for i := 0; i < nf; i++ {
					pred += ow.At(k, i) * f[i]
				}
				diff := pred - zNext[k]
				obsLoss += diff * diff / float64(wm.LatentDim)
				dp := 2 * diff / float64(wm.LatentDim)
				for i := 0; i < nf; i++ {
					gObs[k*nf+i] += dp * f[i]
				}
			}

			var rhat, endLogit float64
			for i := 0; i < nf; i++ {
				rhat += wm.rewardW.Data.AtVec(i) * f[i]
				endLogit += wm.endW.Data.AtVec(i) * f[i]
			}
			rDiff := rhat - float64(b.Rewards.Values[n*seqLen+t])
			rewardLoss += rDiff * rDiff
			ehat := sigmoid(endLogit)
			eDiff := ehat - float64(b.Ends.Values[n*seqLen+t])
			endLoss += eDiff * eDiff
			dLogit := 2 * eDiff * ehat * (1 - ehat)
			for i := 0; i < nf; i++ {
				gReward[i] += 2 * rDiff * f[i]
				gEnd[i] += dLogit * f[i]
			}
		}
	}
	if count == 0 {
		count = 1
	}
	obsLoss /= float64(count)
	rewardLoss /= float64(count)
	endLoss /= float64(count)
	for _, g := range [][]float64{gObs, gReward, gEnd} {
		for i := range g {
			g[i] /= float64(count)
		}
	}
	wm.pendingGrad = gc

	return &agent.LossBundle{
		Total: obsLoss + rewardLoss + endLoss,
		Losses: map[string]float64{
			"loss_obs":     obsLoss,
			"loss_rewards": rewardLoss,
			"loss_ends":    endLoss,
		},
	}, nil
}

func (wm *WorldModel) Backward(scale float64) {
	if wm.pendingGrad == nil {
		return
	}
	wm.pendingGrad.addTo(wm.Parameters(), scale)
}
