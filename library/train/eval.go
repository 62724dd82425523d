package train

import (
	"fmt"

	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/metrics"
)

// evalAgent computes deterministic evaluation metrics for the epoch. The
// tokenizer and world model are scored by exhaustive traversal of the
// evaluation dataset; the actor-critic has no held-out loss path and is
// assessed purely through imagined rollouts.
func (tr *Trainer) evalAgent(epoch int) ([]metrics.Event, error) {
	cfg := tr.Config
	tr.Agent.Eval()

	var events []metrics.Event

	if epoch > cfg.Evaluation.Tokenizer.StartAfterEpochs {
		evs, err := tr.evalComponent(tr.Agent.Tokenizer, cfg.Evaluation.Tokenizer.BatchNumSamples, 1, agent.LossContext{})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	if epoch > cfg.Evaluation.WorldModel.StartAfterEpochs {
		evs, err := tr.evalComponent(tr.Agent.WorldModel, cfg.Evaluation.WorldModel.BatchNumSamples,
			cfg.Common.SequenceLength, agent.LossContext{Tokenizer: tr.Agent.Tokenizer})
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	if epoch > cfg.Evaluation.ActorCritic.StartAfterEpochs {
		evs, err := tr.inspectImagination(epoch)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	if cfg.Evaluation.Tokenizer.SaveReconstructions && tr.Recons != nil {
		rec, ok := tr.Agent.Tokenizer.(agent.Reconstructor)
		if !ok {
			return nil, fmt.Errorf("train: reconstruction saving is enabled but tokenizer %q cannot reconstruct", tr.Agent.Tokenizer.Name())
		}
		batch, err := tr.TestData.SampleBatch(3, cfg.Common.SequenceLength, nil, true)
		if err != nil {
			return nil, err
		}
		recons, err := rec.Reconstruct(batch)
		if err != nil {
			return nil, err
		}
		if err := tr.Recons.SaveReconstructions(batch, recons, epoch); err != nil {
			return nil, err
		}
	}

	return events, nil
}

// evalComponent traverses the evaluation dataset exactly once, averaging
// every loss over the number of batches actually traversed. No gradients
// are accumulated: ComputeLoss without Backward leaves parameters alone.
func (tr *Trainer) evalComponent(comp agent.Component, batchSize, seqLen int, ctx agent.LossContext) ([]metrics.Event, error) {
	var totalLoss float64
	accum := metrics.NewAccum()
	steps := 0

	trav := tr.TestData.Traverse(batchSize, seqLen)
	for {
		batch, ok := trav.Next()
		if !ok {
			break
		}
		bundle, err := comp.ComputeLoss(batch, ctx)
		if err != nil {
			return nil, err
		}
		totalLoss += bundle.Total
		for _, name := range sortedLossNames(bundle) {
			accum.Add(name, bundle.Losses[name])
		}
		steps++
	}
	// the batch count is always reported, so an empty evaluation dataset
	// shows up in the sink instead of passing silently
	events := []metrics.Event{metrics.Scalar(metrics.Eval, comp.Name(), "eval_batches", float64(steps))}
	if steps == 0 {
		return events, nil
	}
	accum.Scale(1 / float64(steps))

	events = append(events, metrics.Scalar(metrics.Eval, comp.Name(), "total_loss", totalLoss/float64(steps)))
	events = append(events, accum.Events(metrics.Eval, comp.Name())...)
	return events, nil
}

// inspectImagination rolls out the current policy inside the world model
// from real burn-in contexts, persists each rollout as an episode with a
// session-global identifier, and emits per-episode diagnostics.
func (tr *Trainer) inspectImagination(epoch int) ([]metrics.Event, error) {
	cfg := tr.Config
	imaginer, ok := tr.Agent.ActorCritic.(agent.Imaginer)
	if !ok {
		return nil, fmt.Errorf("train: actor-critic %q cannot imagine rollouts", tr.Agent.ActorCritic.Name())
	}

	numEpisodes := cfg.Evaluation.ActorCritic.NumEpisodesToSave
	batch, err := tr.TestData.SampleBatch(numEpisodes, 1+cfg.Training.ActorCritic.BurnIn, nil, false)
	if err != nil {
		return nil, err
	}
	out, err := imaginer.Imagine(batch, tr.Agent.Tokenizer, tr.Agent.WorldModel, cfg.Evaluation.ActorCritic.Horizon)
	if err != nil {
		return nil, err
	}

	var events []metrics.Event
	for i := 0; i < out.NumSamples(); i++ {
		ep := out.Sample(i)
		// Session-relative identifier; can collide across resumes with a
		// different actor-critic activation threshold.
		id := (epoch-1-cfg.Training.ActorCritic.StartAfterEpochs)*out.NumSamples() + i
		if tr.ImaginationDir != nil {
			if err := tr.ImaginationDir.Save(ep, id, epoch); err != nil {
				return nil, err
			}
		}

		em := ep.ComputeMetrics()
		hist := etensor.NewInt64([]int{tr.NumActions}, nil, []string{"Action"})
		for t := 0; t < ep.Len(); t++ {
			a := int(ep.Actions.Values[t])
			if a >= 0 && a < tr.NumActions {
				hist.Values[a]++
			}
		}
		events = append(events,
			metrics.Scalar(metrics.Imagination, "", "episode_return", em.Return),
			metrics.Scalar(metrics.Imagination, "", "episode_length", float64(em.Length)),
			metrics.Scalar(metrics.Imagination, "", "episode_num", float64(id)),
			metrics.Event{Mode: metrics.Imagination, Name: "action_histogram", Hist: hist},
		)
	}
	return events, nil
}
