package agent

import (
	"encoding/json"
	"fmt"
)

// Agent bundles the three components so they can be toggled and
// serialized as one unit.
type Agent struct {
	Tokenizer   Component
	WorldModel  Component
	ActorCritic Component
}

func New(tokenizer, worldModel, actorCritic Component) *Agent {
	return &Agent{Tokenizer: tokenizer, WorldModel: worldModel, ActorCritic: actorCritic}
}

// Components returns the components in training order.
func (ag *Agent) Components() []Component {
	return []Component{ag.Tokenizer, ag.WorldModel, ag.ActorCritic}
}

// Train puts every component in training mode.
func (ag *Agent) Train() {
	for _, c := range ag.Components() {
		c.Train()
	}
}

// Eval puts every component in evaluation mode.
func (ag *Agent) Eval() {
	for _, c := range ag.Components() {
		c.Eval()
	}
}

// StateBytes serializes the combined weights of all components.
func (ag *Agent) StateBytes() ([]byte, error) {
	state := make(map[string]map[string][]float64)
	for _, c := range ag.Components() {
		cs := make(map[string][]float64)
		for _, p := range c.Parameters() {
			vals := make([]float64, p.Data.Len())
			for i := range vals {
				vals[i] = p.Data.AtVec(i)
			}
			cs[p.Name] = vals
		}
		state[c.Name()] = cs
	}
	return json.Marshal(state)
}

// LoadStateBytes restores combined weights written by StateBytes. Every
// parameter of every component must be present with a matching length.
func (ag *Agent) LoadStateBytes(b []byte) error {
	state := make(map[string]map[string][]float64)
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("agent: parsing weights: %w", err)
	}
	for _, c := range ag.Components() {
		cs, ok := state[c.Name()]
		if !ok {
			return fmt.Errorf("agent: weights missing component %q", c.Name())
		}
		for _, p := range c.Parameters() {
			vals, ok := cs[p.Name]
			if !ok {
				return fmt.Errorf("agent: weights missing %s/%s", c.Name(), p.Name)
			}
			if len(vals) != p.Data.Len() {
				return fmt.Errorf("agent: %s/%s has %d values, want %d", c.Name(), p.Name, len(vals), p.Data.Len())
			}
			for i, v := range vals {
				p.Data.SetVec(i, v)
			}
		}
	}
	return nil
}
