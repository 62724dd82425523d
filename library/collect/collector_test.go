package collect

import (
	"testing"

	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/metrics"
)

// rightActor always moves right, finishing a corridor of size s in s-1 steps.
type rightActor struct{}

func (rightActor) Act(obs []float32) (int, error) { return 1, nil }

func TestGridEnv(t *testing.T) {
	env := NewGridEnv(4, 10)
	obs := env.Reset()
	if len(obs) != 4 || obs[0] != 1 {
		t.Fatalf("reset obs = %v", obs)
	}
	obs, r, done := env.Step(1)
	if obs[1] != 1 || r != 0 || done {
		t.Errorf("after one right step: obs %v reward %v done %v", obs, r, done)
	}
	env.Step(1)
	_, r, done = env.Step(1)
	if r != 1 || !done {
		t.Errorf("reaching the far end should pay 1 and terminate, got %v %v", r, done)
	}
}

func TestGridEnvTimeout(t *testing.T) {
	env := NewGridEnv(10, 3)
	env.Reset()
	env.Step(0)
	env.Step(0)
	_, r, done := env.Step(0)
	if !done || r != 0 {
		t.Errorf("MaxSteps should terminate without reward, got done=%v r=%v", done, r)
	}
}

func TestCollectFinishedEpisodes(t *testing.T) {
	env := NewGridEnv(4, 10)
	ds := data.NewEpisodeDataset(4, 0, 1)
	// 3 steps per episode, 7 steps total: two finished episodes and a partial one
	cl := NewCollector(env, ds, nil, 7, 0, metrics.Train, 1)

	events, err := cl.Collect(rightActor{}, 1)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if ds.NumEpisodes() != 2 {
		t.Errorf("dataset has %d episodes, want 2", ds.NumEpisodes())
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 2 per finished episode", len(events))
	}
	if events[0].Key() != "collector/train/episode_return" {
		t.Errorf("event key = %q", events[0].Key())
	}
	if events[0].Value != 1 {
		t.Errorf("episode return = %v, want 1", events[0].Value)
	}
	if events[1].Value != 3 {
		t.Errorf("episode length = %v, want 3", events[1].Value)
	}
}

func TestCollectCarriesPartialEpisode(t *testing.T) {
	env := NewGridEnv(4, 10)
	ds := data.NewEpisodeDataset(4, 0, 1)
	cl := NewCollector(env, ds, nil, 2, 0, metrics.Train, 1)

	// first call stops mid-episode
	if _, err := cl.Collect(rightActor{}, 1); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if ds.NumEpisodes() != 0 {
		t.Fatalf("no episode should have finished yet")
	}
	// second call finishes it after one more step
	if _, err := cl.Collect(rightActor{}, 2); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if ds.NumEpisodes() != 1 {
		t.Fatalf("dataset has %d episodes, want 1", ds.NumEpisodes())
	}
	if got := ds.Episodes[0].Len(); got != 3 {
		t.Errorf("carried episode length = %d, want 3", got)
	}
}

func TestCollectEpsilonRandom(t *testing.T) {
	env := NewGridEnv(50, 20)
	ds := data.NewEpisodeDataset(50, 0, 1)
	// epsilon 1: the actor is never consulted, so a nil-deref would fail here
	cl := NewCollector(env, ds, nil, 40, 1, metrics.Train, 1)
	if _, err := cl.Collect(nil, 1); err != nil {
		t.Fatalf("Collect with pure exploration: %v", err)
	}
	if ds.NumEpisodes() < 1 {
		t.Errorf("timeout episodes should still be recorded")
	}
}
