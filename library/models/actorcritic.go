package models

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/data"
)

// ActorCritic is a linear softmax policy plus a linear value head over
// the tokenizer's latent space. It is trained entirely inside rollouts
// imagined by the world model, never on real transitions.
type ActorCritic struct {
	LatentDim  int
	NumActions int
	Horizon    int     `desc:"imagined rollout length used during training"`
	Gamma      float64 `desc:"discount applied inside imagined rollouts"`

	// Enc lets Act work on raw observations during collection; it is
	// the same tokenizer the loss receives through the context.
	Enc Encoder

	actorW      *agent.Param
	criticW     *agent.Param
	rng         *rand.Rand
	pendingGrad gradCache
	training    bool
}

func NewActorCritic(latentDim, numActions, horizon int, seed int64) *ActorCritic {
	ac := &ActorCritic{
		LatentDim:  latentDim,
		NumActions: numActions,
		Horizon:    horizon,
		Gamma:      0.99,
		actorW:     agent.NewParam("actor_w", numActions*(latentDim+1)),
		criticW:    agent.NewParam("critic_w", latentDim+1),
		rng:        rand.New(rand.NewSource(seed)),
	}
	initParam(ac.actorW, ac.rng, 0.1)
	initParam(ac.criticW, ac.rng, 0.1)
	return ac
}

func (ac *ActorCritic) Name() string { return ActorCriticName }
func (ac *ActorCritic) Parameters() []*agent.Param {
	return []*agent.Param{ac.actorW, ac.criticW}
}
func (ac *ActorCritic) Train() { ac.training = true }
func (ac *ActorCritic) Eval()  { ac.training = false }

func (ac *ActorCritic) policy(z []float64) []float64 {
	w := matView(ac.actorW, ac.NumActions, ac.LatentDim+1)
	logits := make([]float64, ac.NumActions)
	for a := 0; a < ac.NumActions; a++ {
		s := w.At(a, ac.LatentDim)
		for k := 0; k < ac.LatentDim; k++ {
			s += w.At(a, k) * z[k]
		}
		logits[a] = s
	}
	return softmax(logits)
}

func (ac *ActorCritic) value(z []float64) float64 {
	v := ac.criticW.Data.AtVec(ac.LatentDim)
	for k := 0; k < ac.LatentDim; k++ {
		v += ac.criticW.Data.AtVec(k) * z[k]
	}
	return v
}

func (ac *ActorCritic) sampleAction(pi []float64) int {
	r := ac.rng.Float64()
	var cum float64
	for a, p := range pi {
		cum += p
		if r < cum {
			return a
		}
	}
	return len(pi) - 1
}

// burnInLatent encodes the last valid burn-in observation of sample n.
func burnInLatent(b *data.Batch, n int, enc Encoder) []float64 {
	seqLen := b.SeqLen()
	obsDim := b.ObsDim()
	last := 0
	for t := 0; t < seqLen; t++ {
		if b.Mask.Values[n*seqLen+t] > 0 {
			last = t
		}
	}
	obs := make([]float64, obsDim)
	for i := 0; i < obsDim; i++ {
		obs[i] = float64(b.Observations.Values[(n*seqLen+last)*obsDim+i])
	}
	return enc.EncodeStep(obs)
}

// Act encodes one raw observation and picks an action, sampling in
// training mode and taking the mode in eval mode.
func (ac *ActorCritic) Act(obs []float32) (int, error) {
	if ac.Enc == nil {
		return 0, fmt.Errorf("actor_critic: acting requires an encoder")
	}
	o := make([]float64, len(obs))
	for i, v := range obs {
		o[i] = float64(v)
	}
	pi := ac.policy(ac.Enc.EncodeStep(o))
	if ac.training {
		return ac.sampleAction(pi), nil
	}
	return argmax(pi), nil
}

// ComputeLoss rolls the policy forward inside the world model for Horizon
// steps starting from the burn-in context, then scores the policy with a
// return-baseline policy gradient and the value head with squared error
// against the discounted imagined returns. Both the tokenizer and the
// world model are required, frozen, through the context.
func (ac *ActorCritic) ComputeLoss(b *data.Batch, ctx agent.LossContext) (*agent.LossBundle, error) {
	if ctx.Tokenizer == nil {
		return nil, fmt.Errorf("actor_critic: loss requires a tokenizer in the context")
	}
	if ctx.WorldModel == nil {
		return nil, fmt.Errorf("actor_critic: loss requires a world model in the context")
	}
	enc, ok := ctx.Tokenizer.(Encoder)
	if !ok {
		return nil, fmt.Errorf("actor_critic: tokenizer %q does not encode observations", ctx.Tokenizer.Name())
	}
	wm, ok := ctx.WorldModel.(StepPredictor)
	if !ok {
		return nil, fmt.Errorf("actor_critic: world model %q does not predict steps", ctx.WorldModel.Name())
	}

	gc := newGradCache(ac.Parameters())
	gActor := gc["actor_w"]
	gCritic := gc["critic_w"]

	var actorLoss, valueLoss float64
	count := 0
	for n := 0; n < b.NumSamples(); n++ {
		z := burnInLatent(b, n, enc)

		zs := make([][]float64, 0, ac.Horizon)
		pis := make([][]float64, 0, ac.Horizon)
		acts := make([]int, 0, ac.Horizon)
		rewards := make([]float64, 0, ac.Horizon)
		ends := make([]float64, 0, ac.Horizon)
		for h := 0; h < ac.Horizon; h++ {
			pi := ac.policy(z)
			a := ac.sampleAction(pi)
			zs = append(zs, z)
			pis = append(pis, pi)
			acts = append(acts, a)
			next, r, e := wm.PredictStep(z, a)
			rewards = append(rewards, r)
			ends = append(ends, e)
			z = next
		}

		// Discounted returns, predicted termination damps the tail.
		returns := make([]float64, ac.Horizon)
		var g float64
		for h := ac.Horizon - 1; h >= 0; h-- {
			g = rewards[h] + ac.Gamma*(1-ends[h])*g
			returns[h] = g
		}

		for h := 0; h < ac.Horizon; h++ {
			count++
			v := ac.value(zs[h])
			adv := returns[h] - v

			logp := math.Log(math.Max(pis[h][acts[h]], 1e-12))
			actorLoss += -logp * adv
			vDiff := v - returns[h]
			valueLoss += vDiff * vDiff

			for a := 0; a < ac.NumActions; a++ {
				dLogit := adv * pis[h][a]
				if a == acts[h] {
					dLogit = adv * (pis[h][a] - 1)
				}
				for k := 0; k < ac.LatentDim; k++ {
					gActor[a*(ac.LatentDim+1)+k] += dLogit * zs[h][k]
				}
				gActor[a*(ac.LatentDim+1)+ac.LatentDim] += dLogit
			}
			dv := 2 * vDiff
			for k := 0; k < ac.LatentDim; k++ {
				gCritic[k] += dv * zs[h][k]
			}
			gCritic[ac.LatentDim] += dv
		}
	}
	if count == 0 {
		count = 1
	}
	actorLoss /= float64(count)
	valueLoss /= float64(count)
	for _, g := range [][]float64{gActor, gCritic} {
		for i := range g {
			g[i] /= float64(count)
		}
	}
	ac.pendingGrad = gc

	return &agent.LossBundle{
		Total: actorLoss + valueLoss,
		Losses: map[string]float64{
			"loss_actions": actorLoss,
			"loss_values":  valueLoss,
		},
	}, nil
}

func (ac *ActorCritic) Backward(scale float64) {
	if ac.pendingGrad == nil {
		return
	}
	ac.pendingGrad.addTo(ac.Parameters(), scale)
}

// Imagine rolls out horizon steps from each burn-in context and returns
// them as a batch of trajectories with an all-valid mask. Observations
// are the tokenizer's decodings of the imagined latents.
func (ac *ActorCritic) Imagine(b *data.Batch, tok, worldModel agent.Component, horizon int) (*data.Batch, error) {
	if tok == nil || worldModel == nil {
		return nil, fmt.Errorf("actor_critic: imagination requires a tokenizer and a world model")
	}
	enc, ok := tok.(Encoder)
	if !ok {
		return nil, fmt.Errorf("actor_critic: tokenizer %q does not encode observations", tok.Name())
	}
	dec, ok := tok.(Decoder)
	if !ok {
		return nil, fmt.Errorf("actor_critic: tokenizer %q does not decode latents", tok.Name())
	}
	wm, ok := worldModel.(StepPredictor)
	if !ok {
		return nil, fmt.Errorf("actor_critic: world model %q does not predict steps", worldModel.Name())
	}

	n := b.NumSamples()
	obsDim := b.ObsDim()
	out := data.NewBatch(n, horizon, obsDim)
	for i := 0; i < n; i++ {
		z := burnInLatent(b, i, enc)
		for h := 0; h < horizon; h++ {
			pi := ac.policy(z)
			a := ac.sampleAction(pi)
			next, r, e := wm.PredictStep(z, a)

			obs := dec.DecodeStep(z)
			for d := 0; d < obsDim; d++ {
				out.Observations.Values[(i*horizon+h)*obsDim+d] = float32(obs[d])
			}
			out.Actions.Values[i*horizon+h] = float32(a)
			out.Rewards.Values[i*horizon+h] = float32(r)
			if e > 0.5 {
				out.Ends.Values[i*horizon+h] = 1
			}
			out.Mask.Values[i*horizon+h] = 1
			z = next
		}
	}
	return out, nil
}
