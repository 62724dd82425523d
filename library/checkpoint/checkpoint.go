// Package checkpoint persists and restores the complete resumable
// training state: combined agent weights, epoch counter, the three
// optimizer states, the training dataset's on-disk state, and the
// evaluation dataset's seen-episode count.
//
// Saves are crash-safe by generation: every artifact is written into a
// fresh temporary directory first, and only once all writes succeed is
// the temporary directory swapped in as the new checkpoint. A failure
// mid-save leaves the previous generation untouched.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/optim"
)

const (
	weightsFile   = "last.wts.json"
	epochFile     = "epoch.json"
	optimizerFile = "optimizer.json"
	datasetSubdir = "dataset"
	seenFile      = "num_seen_episodes_test_dataset.json"
)

// Optimizers is the triple of per-component optimizers saved as one
// combined artifact.
type Optimizers struct {
	Tokenizer   optim.Optimizer
	WorldModel  optim.Optimizer
	ActorCritic optim.Optimizer
}

// Manager owns one checkpoint directory.
type Manager struct {
	Dir         string `desc:"primary checkpoint directory"`
	EvalEnabled bool   `desc:"whether the eval seen-episode count is part of the state"`
}

func NewManager(dir string, evalEnabled bool) *Manager {
	return &Manager{Dir: dir, EvalEnabled: evalEnabled}
}

type combinedOptimizerState struct {
	Tokenizer   json.RawMessage `json:"optimizer_tokenizer"`
	WorldModel  json.RawMessage `json:"optimizer_world_model"`
	ActorCritic json.RawMessage `json:"optimizer_actor_critic"`
}

// Save writes a new checkpoint generation for the given epoch. With
// agentOnly, only the weights artifact is refreshed and every other
// artifact is carried forward from the previous generation.
func (mg *Manager) Save(epoch int, ag *agent.Agent, opts Optimizers, trainData data.BatchSource, testData data.BatchSource, agentOnly bool) error {
	tmp := mg.Dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return err
	}

	wts, err := ag.StateBytes()
	if err != nil {
		return fmt.Errorf("checkpoint: serializing weights: %w", err)
	}
	if err := ioutil.WriteFile(filepath.Join(tmp, weightsFile), wts, 0644); err != nil {
		return err
	}

	if agentOnly {
		if err := mg.carryForward(tmp); err != nil {
			return err
		}
	} else {
		if err := writeJSON(filepath.Join(tmp, epochFile), epoch); err != nil {
			return err
		}
		combined := combinedOptimizerState{}
		for _, pair := range []struct {
			dst *json.RawMessage
			opt optim.Optimizer
		}{
			{&combined.Tokenizer, opts.Tokenizer},
			{&combined.WorldModel, opts.WorldModel},
			{&combined.ActorCritic, opts.ActorCritic},
		} {
			st, err := pair.opt.State()
			if err != nil {
				return fmt.Errorf("checkpoint: serializing optimizer state: %w", err)
			}
			*pair.dst = st
		}
		if err := writeJSON(filepath.Join(tmp, optimizerFile), &combined); err != nil {
			return err
		}
		if err := trainData.UpdateDiskCheckpoint(filepath.Join(tmp, datasetSubdir)); err != nil {
			return fmt.Errorf("checkpoint: persisting dataset: %w", err)
		}
		if mg.EvalEnabled {
			if err := writeJSON(filepath.Join(tmp, seenFile), testData.NumSeenEpisodes()); err != nil {
				return err
			}
		}
	}

	return mg.swap(tmp)
}

// carryForward copies the previous generation's non-weight artifacts into
// the new one. The dataset subtree is copied too, never moved: the
// previous generation must stay complete until the swap, a crash before
// the swap has to leave it loadable.
func (mg *Manager) carryForward(tmp string) error {
	for _, fnm := range []string{epochFile, optimizerFile, seenFile} {
		src := filepath.Join(mg.Dir, fnm)
		b, err := ioutil.ReadFile(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		if err := ioutil.WriteFile(filepath.Join(tmp, fnm), b, 0644); err != nil {
			return err
		}
	}
	oldData := filepath.Join(mg.Dir, datasetSubdir)
	if _, err := os.Stat(oldData); err == nil {
		if err := copyDir(oldData, filepath.Join(tmp, datasetSubdir)); err != nil {
			return err
		}
	}
	return nil
}

// copyDir copies an artifact directory tree.
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := ioutil.ReadDir(src)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() {
			if err := copyDir(filepath.Join(src, ent.Name()), filepath.Join(dst, ent.Name())); err != nil {
				return err
			}
			continue
		}
		b, err := ioutil.ReadFile(filepath.Join(src, ent.Name()))
		if err != nil {
			return err
		}
		if err := ioutil.WriteFile(filepath.Join(dst, ent.Name()), b, 0644); err != nil {
			return err
		}
	}
	return nil
}

// swap atomically replaces the primary directory with the new generation
// and discards the previous one.
func (mg *Manager) swap(tmp string) error {
	old := mg.Dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if _, err := os.Stat(mg.Dir); err == nil {
		if err := os.Rename(mg.Dir, old); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, mg.Dir); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// Load restores the full training state. Any missing artifact is an
// error; the caller treats that as fatal at startup. The returned epoch
// is the one to resume at, stored epoch + 1.
func (mg *Manager) Load(ag *agent.Agent, opts Optimizers, trainData data.BatchSource, testData data.BatchSource) (int, error) {
	info, err := os.Stat(mg.Dir)
	if err != nil || !info.IsDir() {
		return 0, fmt.Errorf("checkpoint: directory %s does not exist", mg.Dir)
	}

	var epoch int
	if err := readJSON(filepath.Join(mg.Dir, epochFile), &epoch); err != nil {
		return 0, err
	}

	wts, err := ioutil.ReadFile(filepath.Join(mg.Dir, weightsFile))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: reading weights: %w", err)
	}
	if err := ag.LoadStateBytes(wts); err != nil {
		return 0, err
	}

	combined := combinedOptimizerState{}
	if err := readJSON(filepath.Join(mg.Dir, optimizerFile), &combined); err != nil {
		return 0, err
	}
	for _, pair := range []struct {
		src json.RawMessage
		opt optim.Optimizer
	}{
		{combined.Tokenizer, opts.Tokenizer},
		{combined.WorldModel, opts.WorldModel},
		{combined.ActorCritic, opts.ActorCritic},
	} {
		if pair.src == nil {
			return 0, fmt.Errorf("checkpoint: optimizer artifact is incomplete")
		}
		if err := pair.opt.LoadState(pair.src); err != nil {
			return 0, err
		}
	}

	if err := trainData.LoadDiskCheckpoint(filepath.Join(mg.Dir, datasetSubdir)); err != nil {
		return 0, err
	}

	if mg.EvalEnabled {
		var seen int
		if err := readJSON(filepath.Join(mg.Dir, seenFile), &seen); err != nil {
			return 0, err
		}
		testData.SetNumSeenEpisodes(seen)
	}

	return epoch + 1, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, b, 0644)
}

func readJSON(path string, v interface{}) error {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("checkpoint: reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("checkpoint: parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}
