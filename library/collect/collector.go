// Package collect gathers fresh episodes from an environment into a
// dataset between training epochs.
package collect

import (
	"fmt"
	"math/rand"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/episode"
	"github.com/Astera-org/imagent/library/metrics"
)

// Env is the external environment contract. The orchestrator only needs
// single-process, blocking semantics; fan-out across worker processes is
// an environment-side concern.
type Env interface {
	Reset() []float32
	Step(action int) (obs []float32, reward float32, done bool)
	NumActions() int
	ObsDim() int
}

// Collector runs the agent's policy in an environment for a fixed number
// of steps per call, appending finished episodes to the dataset and
// retaining them on disk. A partial episode is carried across calls.
type Collector struct {
	Env      Env
	Dataset  data.Appender
	DirMan   *episode.DirManager
	NumSteps int     `desc:"environment steps per Collect call"`
	Epsilon  float64 `desc:"random-action probability"`
	Mode     metrics.Mode

	rng    *rand.Rand
	cur    *episode.Episode
	curObs []float32
}

func NewCollector(env Env, ds data.Appender, dm *episode.DirManager, numSteps int, epsilon float64, mode metrics.Mode, seed int64) *Collector {
	return &Collector{
		Env:      env,
		Dataset:  ds,
		DirMan:   dm,
		NumSteps: numSteps,
		Epsilon:  epsilon,
		Mode:     mode,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Collect runs NumSteps environment steps under the given actor and
// returns per-episode metric events for every episode finished.
func (cl *Collector) Collect(actor agent.Actor, epoch int) ([]metrics.Event, error) {
	var events []metrics.Event
	for step := 0; step < cl.NumSteps; step++ {
		if cl.cur == nil {
			cl.curObs = cl.Env.Reset()
			cl.cur = episode.New(cl.Env.ObsDim())
		}
		var action int
		if cl.rng.Float64() < cl.Epsilon {
			action = cl.rng.Intn(cl.Env.NumActions())
		} else {
			var err error
			action, err = actor.Act(cl.curObs)
			if err != nil {
				return nil, fmt.Errorf("collect: acting: %w", err)
			}
		}
		obs, reward, done := cl.Env.Step(action)
		cl.cur.Append(cl.curObs, action, reward, done)
		if done {
			id := cl.Dataset.AppendEpisode(cl.cur)
			if cl.DirMan != nil {
				if err := cl.DirMan.Save(cl.cur, id, epoch); err != nil {
					return nil, err
				}
			}
			em := cl.cur.ComputeMetrics()
			events = append(events,
				metrics.Scalar(cl.Mode, "collector", "episode_return", em.Return),
				metrics.Scalar(cl.Mode, "collector", "episode_length", float64(em.Length)),
			)
			cl.cur = nil
		} else {
			cl.curObs = obs
		}
	}
	return events, nil
}
