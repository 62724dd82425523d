// Package config holds the immutable run configuration for the trainer.
// A Config is constructed once (defaults, then optionally a TOML file on
// top) and passed by pointer into every constructor that needs it.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Common is configuration shared by every part of a run.
type Common struct {
	Epochs         int    `desc:"final epoch index, inclusive -- epochs count from 1"`
	SequenceLength int    `desc:"sequence length of world model training batches"`
	Seed           int64  `desc:"random seed -- 0 means seed from the clock"`
	DoCheckpoint   bool   `desc:"if false, checkpoints save agent weights only"`
	Resume         bool   `desc:"resume from the checkpoint directory under OutputDir"`
	OutputDir      string `desc:"root directory for checkpoints, media and logs"`
}

// ComponentTraining configures one component's training phase.
type ComponentTraining struct {
	StartAfterEpochs int     `desc:"component is inactive for any epoch <= this threshold"`
	StepsPerEpoch    int     `desc:"optimizer steps per epoch"`
	BatchNumSamples  int     `desc:"samples per batch"`
	GradAccSteps     int     `desc:"gradient accumulation sub-steps per optimizer step"`
	MaxGradNorm      float64 `desc:"gradient norm clip -- 0 or negative disables clipping"`
	BurnIn           int     `desc:"burn-in prefix length, actor-critic only"`
}

// Training configures the training half of a run.
type Training struct {
	Should          bool      `desc:"whether training runs at all"`
	LearningRate    float64   `desc:"learning rate shared by the three optimizers"`
	SamplingWeights []float64 `desc:"age-bucket sampling weights shared across components within an epoch"`
	Tokenizer       ComponentTraining
	WorldModel      ComponentTraining
	ActorCritic     ComponentTraining
}

// ComponentEvaluation configures one component's evaluation phase.
type ComponentEvaluation struct {
	StartAfterEpochs    int  `desc:"component is not evaluated for any epoch <= this threshold"`
	BatchNumSamples     int  `desc:"samples per traversal batch"`
	SaveReconstructions bool `desc:"tokenizer only -- forward a small batch to the reconstruction saver"`
	Horizon             int  `desc:"actor-critic only -- imagined rollout length"`
	NumEpisodesToSave   int  `desc:"actor-critic only -- imagination episodes retained per inspection"`
}

// Evaluation configures the evaluation half of a run.
type Evaluation struct {
	Should      bool `desc:"whether evaluation runs at all"`
	Every       int  `desc:"evaluate on epochs divisible by this interval"`
	Tokenizer   ComponentEvaluation
	WorldModel  ComponentEvaluation
	ActorCritic ComponentEvaluation
}

// Collection configures episode collection into one dataset.
type Collection struct {
	NumSteps          int     `desc:"environment steps to collect per epoch"`
	StopAfterEpochs   int     `desc:"stop collecting after this epoch (training collector)"`
	Epsilon           float64 `desc:"random-action probability during collection"`
	MaxEpisodes       int     `desc:"dataset capacity in episodes, oldest evicted first"`
	NumEpisodesToSave int     `desc:"episodes retained on disk for this stream"`
}

// Config is the full, immutable run configuration.
type Config struct {
	Common       Common
	Training     Training
	Evaluation   Evaluation
	CollectTrain Collection
	CollectTest  Collection
}

// Default returns a Config suitable for a small local run.
func Default() *Config {
	cfg := &Config{}
	cfg.Common = Common{Epochs: 10, SequenceLength: 8, DoCheckpoint: true, OutputDir: "output"}
	cfg.Training = Training{
		Should:          true,
		LearningRate:    1e-3,
		SamplingWeights: []float64{0.1, 0.1, 0.2, 0.6},
		Tokenizer:       ComponentTraining{StepsPerEpoch: 20, BatchNumSamples: 16, GradAccSteps: 1},
		WorldModel:      ComponentTraining{StartAfterEpochs: 2, StepsPerEpoch: 20, BatchNumSamples: 8, GradAccSteps: 1, MaxGradNorm: 10},
		ActorCritic:     ComponentTraining{StartAfterEpochs: 4, StepsPerEpoch: 10, BatchNumSamples: 8, GradAccSteps: 1, MaxGradNorm: 3, BurnIn: 4},
	}
	cfg.Evaluation = Evaluation{
		Should:      true,
		Every:       5,
		Tokenizer:   ComponentEvaluation{BatchNumSamples: 16, SaveReconstructions: true},
		WorldModel:  ComponentEvaluation{StartAfterEpochs: 2, BatchNumSamples: 8},
		ActorCritic: ComponentEvaluation{StartAfterEpochs: 4, Horizon: 10, NumEpisodesToSave: 4},
	}
	cfg.CollectTrain = Collection{NumSteps: 200, StopAfterEpochs: 500, Epsilon: 0.01, MaxEpisodes: 500, NumEpisodesToSave: 10}
	cfg.CollectTest = Collection{NumSteps: 100, Epsilon: 0.0, MaxEpisodes: 100, NumEpisodesToSave: 10}
	return cfg
}

// Load decodes a TOML file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints that would otherwise surface as
// confusing failures deep inside an epoch.
func (cfg *Config) Validate() error {
	if cfg.Common.Epochs < 1 {
		return fmt.Errorf("config: Common.Epochs must be >= 1, got %d", cfg.Common.Epochs)
	}
	if cfg.Common.SequenceLength < 1 {
		return fmt.Errorf("config: Common.SequenceLength must be >= 1, got %d", cfg.Common.SequenceLength)
	}
	if cfg.Training.Should {
		for _, tc := range []struct {
			name string
			c    ComponentTraining
		}{
			{"Tokenizer", cfg.Training.Tokenizer},
			{"WorldModel", cfg.Training.WorldModel},
			{"ActorCritic", cfg.Training.ActorCritic},
		} {
			if tc.c.GradAccSteps < 1 {
				return fmt.Errorf("config: Training.%s.GradAccSteps must be >= 1, got %d", tc.name, tc.c.GradAccSteps)
			}
			if tc.c.StepsPerEpoch < 1 {
				return fmt.Errorf("config: Training.%s.StepsPerEpoch must be >= 1, got %d", tc.name, tc.c.StepsPerEpoch)
			}
			if tc.c.BatchNumSamples < 1 {
				return fmt.Errorf("config: Training.%s.BatchNumSamples must be >= 1, got %d", tc.name, tc.c.BatchNumSamples)
			}
		}
	}
	if cfg.Evaluation.Should && cfg.Evaluation.Every < 1 {
		return fmt.Errorf("config: Evaluation.Every must be >= 1, got %d", cfg.Evaluation.Every)
	}
	return nil
}
