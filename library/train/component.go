package train

import (
	"sort"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/config"
	"github.com/Astera-org/imagent/library/metrics"
	"github.com/Astera-org/imagent/library/optim"
)

// trainAgent runs the training phase of one epoch: the three components
// in their fixed order under their activation gates. The order is a real
// dependency: the world model's loss context wants the already-updated
// tokenizer, and the actor-critic wants both. Each component is switched
// to eval mode right after its training slot whether or not it trained;
// downstream components must see frozen, non-training uses of it.
func (tr *Trainer) trainAgent(epoch int) ([]metrics.Event, error) {
	cfg := tr.Config
	tr.Agent.Train()

	var events []metrics.Event
	w := cfg.Training.SamplingWeights

	if epoch > cfg.Training.Tokenizer.StartAfterEpochs {
		evs, err := tr.trainComponent(tr.Agent.Tokenizer, tr.Optimizers.Tokenizer, cfg.Training.Tokenizer,
			1, true, w, agent.LossContext{})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	tr.Agent.Tokenizer.Eval()

	if epoch > cfg.Training.WorldModel.StartAfterEpochs {
		evs, err := tr.trainComponent(tr.Agent.WorldModel, tr.Optimizers.WorldModel, cfg.Training.WorldModel,
			cfg.Common.SequenceLength, true, w, agent.LossContext{Tokenizer: tr.Agent.Tokenizer})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	tr.Agent.WorldModel.Eval()

	if epoch > cfg.Training.ActorCritic.StartAfterEpochs {
		evs, err := tr.trainComponent(tr.Agent.ActorCritic, tr.Optimizers.ActorCritic, cfg.Training.ActorCritic,
			1+cfg.Training.ActorCritic.BurnIn, false, w,
			agent.LossContext{Tokenizer: tr.Agent.Tokenizer, WorldModel: tr.Agent.WorldModel})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	tr.Agent.ActorCritic.Eval()

	return events, nil
}

// trainComponent runs the configured number of optimizer steps for one
// component. Reported losses are averaged over all sub-steps, so the
// reported value does not depend on the accumulation factor; only the
// gradient contribution is scaled by it.
func (tr *Trainer) trainComponent(comp agent.Component, opt optim.Optimizer, tc config.ComponentTraining,
	seqLen int, sampleFromStart bool, weights []float64, ctx agent.LossContext) ([]metrics.Event, error) {

	var totalLoss float64
	accum := metrics.NewAccum()
	subSteps := float64(tc.StepsPerEpoch * tc.GradAccSteps)

	for step := 0; step < tc.StepsPerEpoch; step++ {
		agent.ZeroGrads(comp.Parameters())
		for sub := 0; sub < tc.GradAccSteps; sub++ {
			batch, err := tr.TrainData.SampleBatch(tc.BatchNumSamples, seqLen, weights, sampleFromStart)
			if err != nil {
				return nil, err
			}
			bundle, err := comp.ComputeLoss(batch, ctx)
			if err != nil {
				return nil, err
			}
			comp.Backward(1 / float64(tc.GradAccSteps))

			totalLoss += bundle.Total / subSteps
			for _, name := range sortedLossNames(bundle) {
				accum.Add(name, bundle.Losses[name]/subSteps)
			}
		}
		if tc.MaxGradNorm > 0 {
			agent.ClipGradNorm(comp.Parameters(), tc.MaxGradNorm)
		}
		opt.Step(comp.Parameters())
	}

	events := []metrics.Event{metrics.Scalar(metrics.Train, comp.Name(), "total_loss", totalLoss)}
	events = append(events, accum.Events(metrics.Train, comp.Name())...)
	return events, nil
}

func sortedLossNames(bundle *agent.LossBundle) []string {
	names := make([]string, 0, len(bundle.Losses))
	for name := range bundle.Losses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
