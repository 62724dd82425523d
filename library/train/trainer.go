// Package train is the epoch-level training orchestrator: it schedules
// collection, per-component training, evaluation, imagination inspection
// and checkpointing across epochs.
package train

import (
	"fmt"
	"time"

	"github.com/emer/emergent/env"
	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/checkpoint"
	"github.com/Astera-org/imagent/library/config"
	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/episode"
	"github.com/Astera-org/imagent/library/metrics"
)

// Collector gathers fresh episodes into a dataset. It blocks until
// collection is complete; the scheduler never overlaps it with training.
type Collector interface {
	Collect(actor agent.Actor, epoch int) ([]metrics.Event, error)
}

// ReconsSaver receives a small evaluation batch and the tokenizer's
// reconstruction of it, tagged with the epoch.
type ReconsSaver interface {
	SaveReconstructions(b *data.Batch, recons *etensor.Float32, epoch int) error
}

// Callbacks hook into the epoch loop. StopEarly is polled between
// epochs and is the cooperative cancellation point of the run.
type Callbacks struct {
	OnEpochStart func(epoch int)
	OnEpochEnd   func(epoch int)
	StopEarly    func() bool
}

// Trainer drives the run from the current (possibly resumed) epoch
// through the configured final epoch. All collaborator fields for the
// enabled branches must be set before Init.
type Trainer struct {
	Config     *config.Config
	Agent      *agent.Agent
	Optimizers checkpoint.Optimizers

	TrainData data.BatchSource `desc:"training batch source, written only by the collector between epochs"`
	TestData  data.BatchSource `desc:"held-out batch source for evaluation"`

	TrainCollector Collector
	TestCollector  Collector
	Actor          agent.Actor `desc:"policy used during collection"`

	Checkpoint     *checkpoint.Manager
	Sink           metrics.Sink
	Recons         ReconsSaver
	ImaginationDir *episode.DirManager
	NumActions     int `desc:"action vocabulary size, from the environment"`

	Callbacks []Callbacks

	Epoch      env.Ctr `desc:"current epoch, 1-based"`
	StartEpoch int
}

// Init validates the configuration against the wired collaborators and,
// when resuming, restores the full training state. It must be called
// once before Run.
func (tr *Trainer) Init() error {
	cfg := tr.Config
	if !cfg.Training.Should && !cfg.Evaluation.Should {
		return fmt.Errorf("train: neither training nor evaluation is enabled")
	}
	if cfg.Training.Should && tr.TrainData == nil {
		return fmt.Errorf("train: training is enabled but no training batch source is set")
	}
	if cfg.Evaluation.Should && tr.TestData == nil {
		return fmt.Errorf("train: evaluation is enabled but no evaluation batch source is set")
	}
	if cfg.Training.Should && tr.Checkpoint == nil {
		return fmt.Errorf("train: training is enabled but no checkpoint manager is set")
	}
	if tr.Sink == nil {
		return fmt.Errorf("train: no metrics sink is set")
	}

	tr.StartEpoch = 1
	if cfg.Common.Resume {
		if tr.Checkpoint == nil || tr.TrainData == nil {
			return fmt.Errorf("train: resuming requires a checkpoint manager and a training batch source")
		}
		start, err := tr.Checkpoint.Load(tr.Agent, tr.Optimizers, tr.TrainData, tr.TestData)
		if err != nil {
			return err
		}
		tr.StartEpoch = start
	}
	tr.Epoch.Max = cfg.Common.Epochs
	return nil
}

// Run executes the epoch loop to completion and finishes the sink.
func (tr *Trainer) Run() error {
	cfg := tr.Config
	for tr.Epoch.Cur = tr.StartEpoch; tr.Epoch.Cur <= tr.Epoch.Max; tr.Epoch.Cur++ {
		epoch := tr.Epoch.Cur
		tr.onEpochStart(epoch)
		start := time.Now()
		var events []metrics.Event

		if cfg.Training.Should {
			if tr.TrainCollector != nil && epoch <= cfg.CollectTrain.StopAfterEpochs {
				evs, err := tr.TrainCollector.Collect(tr.Actor, epoch)
				if err != nil {
					return err
				}
				events = append(events, evs...)
			}
			evs, err := tr.trainAgent(epoch)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}

		if cfg.Evaluation.Should && epoch%cfg.Evaluation.Every == 0 {
			tr.TestData.Clear()
			if tr.TestCollector != nil {
				evs, err := tr.TestCollector.Collect(tr.Actor, epoch)
				if err != nil {
					return err
				}
				events = append(events, evs...)
			}
			evs, err := tr.evalAgent(epoch)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}

		if cfg.Training.Should {
			if err := tr.Checkpoint.Save(epoch, tr.Agent, tr.Optimizers, tr.TrainData, tr.TestData, !cfg.Common.DoCheckpoint); err != nil {
				return err
			}
		}

		events = append(events, metrics.Event{Name: "duration", Value: time.Since(start).Hours()})
		if err := tr.Sink.LogEpoch(epoch, events); err != nil {
			return err
		}
		tr.onEpochEnd(epoch)
		if tr.stopEarly() {
			break
		}
	}
	return tr.Sink.Finish()
}

// Boiler-plate callback fan-out, so callers don't copy-paste the loop.

func (tr *Trainer) onEpochStart(epoch int) {
	for _, cb := range tr.Callbacks {
		if cb.OnEpochStart != nil {
			cb.OnEpochStart(epoch)
		}
	}
}

func (tr *Trainer) onEpochEnd(epoch int) {
	for _, cb := range tr.Callbacks {
		if cb.OnEpochEnd != nil {
			cb.OnEpochEnd(epoch)
		}
	}
}

func (tr *Trainer) stopEarly() bool {
	for _, cb := range tr.Callbacks {
		if cb.StopEarly != nil && cb.StopEarly() {
			return true
		}
	}
	return false
}
