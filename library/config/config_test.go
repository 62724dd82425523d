package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config_test")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "run.toml")
	body := `
[Common]
Epochs = 50
Seed = 7

[Training.WorldModel]
StartAfterEpochs = 9
`
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Common.Epochs != 50 {
		t.Errorf("Epochs = %d, want 50", cfg.Common.Epochs)
	}
	if cfg.Common.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Common.Seed)
	}
	if cfg.Training.WorldModel.StartAfterEpochs != 9 {
		t.Errorf("WorldModel.StartAfterEpochs = %d, want 9", cfg.Training.WorldModel.StartAfterEpochs)
	}
	// untouched defaults survive
	if cfg.Common.SequenceLength != Default().Common.SequenceLength {
		t.Errorf("SequenceLength should keep its default")
	}
	if !cfg.Training.Should {
		t.Errorf("Training.Should should keep its default")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config_test")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "bad.toml")
	body := `
[Training.Tokenizer]
GradAccSteps = 0
`
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("expected validation error for GradAccSteps = 0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("no_such_file.toml"); err == nil {
		t.Errorf("expected error for a missing config file")
	}
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.Common.Epochs = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error for Epochs = 0")
	}

	cfg = Default()
	cfg.Evaluation.Every = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error for Evaluation.Every = 0")
	}

	// disabled halves are not validated
	cfg = Default()
	cfg.Evaluation.Should = false
	cfg.Evaluation.Every = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled evaluation should not be validated: %v", err)
	}
}
