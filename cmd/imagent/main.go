// Command imagent trains the three-component world-model agent on a toy
// environment, or resumes a previous run from its checkpoint.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/checkpoint"
	"github.com/Astera-org/imagent/library/collect"
	"github.com/Astera-org/imagent/library/config"
	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/episode"
	"github.com/Astera-org/imagent/library/metrics"
	"github.com/Astera-org/imagent/library/models"
	"github.com/Astera-org/imagent/library/optim"
	"github.com/Astera-org/imagent/library/train"
	"github.com/Astera-org/imagent/library/visualize"
)

var configFile string
var resume bool
var resumePath string
var epochs int
var note string

const latentDim = 6

func parseArgs() *config.Config {
	flag.StringVar(&configFile, "config", "", "TOML config file to load over the defaults")
	flag.BoolVar(&resume, "resume", false, "resume from a previous run directory")
	flag.StringVar(&resumePath, "resumePath", "", "run directory to resume from")
	flag.IntVar(&epochs, "epochs", 0, "override the number of epochs")
	flag.StringVar(&note, "note", "", "user note -- describe the run params etc")
	flag.Parse()

	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		cfg = config.Default()
	}
	if epochs > 0 {
		cfg.Common.Epochs = epochs
	}
	if resume {
		cfg.Common.Resume = true
		if resumePath != "" {
			cfg.Common.OutputDir = resumePath
		}
	}
	return cfg
}

func runDir(cfg *config.Config) string {
	if cfg.Common.Resume {
		return cfg.Common.OutputDir
	}
	return filepath.Join(cfg.Common.OutputDir, time.Now().Format("2006-01-02_15-04-05"))
}

func main() {
	cfg := parseArgs()
	if note != "" {
		fmt.Printf("note: %s\n", note)
	}

	seed := cfg.Common.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	base := runDir(cfg)
	ckptDir := filepath.Join(base, "checkpoints")
	mediaDir := filepath.Join(base, "media")
	for _, d := range []string{base, mediaDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			log.Fatal(err)
		}
	}

	// Both branches need an environment: it sizes the action vocabulary.
	trainEnv := collect.NewGridEnv(16, 50)
	testEnv := collect.NewGridEnv(16, 50)
	obsDim := trainEnv.ObsDim()
	numActions := trainEnv.NumActions()

	tok := models.NewTokenizer(obsDim, latentDim, seed+1)
	wm := models.NewWorldModel(latentDim, numActions, seed+2)
	ac := models.NewActorCritic(latentDim, numActions, cfg.Evaluation.ActorCritic.Horizon, seed+3)
	ac.Enc = tok
	ag := agent.New(tok, wm, ac)

	opts := checkpoint.Optimizers{
		Tokenizer:   optim.NewAdam(cfg.Training.LearningRate),
		WorldModel:  optim.NewAdam(cfg.Training.LearningRate),
		ActorCritic: optim.NewAdam(cfg.Training.LearningRate),
	}

	tr := &train.Trainer{
		Config:     cfg,
		Agent:      ag,
		Optimizers: opts,
		Actor:      ac,
		Checkpoint: checkpoint.NewManager(ckptDir, cfg.Evaluation.Should),
		NumActions: numActions,
	}

	sink := metrics.NewTableSink()
	if err := sink.SetLogFile(filepath.Join(base, "metrics.tsv")); err != nil {
		log.Fatal(err)
	}
	tr.Sink = sink

	if cfg.Training.Should {
		trainDs := data.NewEpisodeDataset(obsDim, cfg.CollectTrain.MaxEpisodes, seed+4)
		tr.TrainData = trainDs
		dm, err := episode.NewDirManager(filepath.Join(mediaDir, "episodes", "train"), cfg.CollectTrain.NumEpisodesToSave)
		if err != nil {
			log.Fatal(err)
		}
		tr.TrainCollector = collect.NewCollector(trainEnv, trainDs, dm,
			cfg.CollectTrain.NumSteps, cfg.CollectTrain.Epsilon, metrics.Train, seed+5)
	}

	if cfg.Evaluation.Should {
		testDs := data.NewEpisodeDataset(obsDim, cfg.CollectTest.MaxEpisodes, seed+6)
		tr.TestData = testDs
		dm, err := episode.NewDirManager(filepath.Join(mediaDir, "episodes", "test"), cfg.CollectTest.NumEpisodesToSave)
		if err != nil {
			log.Fatal(err)
		}
		tr.TestCollector = collect.NewCollector(testEnv, testDs, dm,
			cfg.CollectTest.NumSteps, cfg.CollectTest.Epsilon, metrics.Eval, seed+7)

		imDir, err := episode.NewDirManager(filepath.Join(mediaDir, "episodes", "imagination"), cfg.Evaluation.ActorCritic.NumEpisodesToSave)
		if err != nil {
			log.Fatal(err)
		}
		tr.ImaginationDir = imDir

		recons, err := visualize.NewReconsSaver(filepath.Join(mediaDir, "reconstructions"))
		if err != nil {
			log.Fatal(err)
		}
		tr.Recons = recons
	}

	if err := tr.Init(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Running epochs %d through %d in %s\n", tr.StartEpoch, cfg.Common.Epochs, base)
	if err := tr.Run(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("end!")
}
