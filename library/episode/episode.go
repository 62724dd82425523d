// Package episode holds recorded interaction episodes and their on-disk
// retention. An episode is a set of equal-length per-step tensors.
package episode

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/emer/etable/etensor"
)

// Episode is one recorded (or imagined) interaction trajectory. All
// tensors share the same leading time dimension. Mask is 1 where the step
// holds real data and 0 where it is padding.
type Episode struct {
	Observations *etensor.Float32 `desc:"(T, ObsDim) observation vectors"`
	Actions      *etensor.Float32 `desc:"(T) discrete action indices"`
	Rewards      *etensor.Float32 `desc:"(T) per-step rewards"`
	Ends         *etensor.Float32 `desc:"(T) 1 at terminal steps"`
	Mask         *etensor.Float32 `desc:"(T) validity mask"`
}

// New returns an empty episode with the given observation dimension.
func New(obsDim int) *Episode {
	ep := &Episode{}
	ep.Observations = etensor.NewFloat32([]int{0, obsDim}, nil, []string{"Time", "Obs"})
	ep.Actions = etensor.NewFloat32([]int{0}, nil, []string{"Time"})
	ep.Rewards = etensor.NewFloat32([]int{0}, nil, []string{"Time"})
	ep.Ends = etensor.NewFloat32([]int{0}, nil, []string{"Time"})
	ep.Mask = etensor.NewFloat32([]int{0}, nil, []string{"Time"})
	return ep
}

// Len returns the number of steps, padding included.
func (ep *Episode) Len() int {
	return ep.Actions.Len()
}

// ObsDim returns the per-step observation dimension.
func (ep *Episode) ObsDim() int {
	return ep.Observations.Dim(1)
}

// Append adds one step to the episode.
func (ep *Episode) Append(obs []float32, action int, reward float32, done bool) {
	t := ep.Len()
	d := ep.ObsDim()
	ep.Observations.SetShape([]int{t + 1, d}, nil, []string{"Time", "Obs"})
	copy(ep.Observations.Values[t*d:], obs)
	for _, tsr := range []*etensor.Float32{ep.Actions, ep.Rewards, ep.Ends, ep.Mask} {
		tsr.SetShape([]int{t + 1}, nil, []string{"Time"})
	}
	ep.Actions.Values[t] = float32(action)
	ep.Rewards.Values[t] = reward
	if done {
		ep.Ends.Values[t] = 1
	}
	ep.Mask.Values[t] = 1
}

// Segment extracts length steps starting at start. Steps past the end of
// the episode are zero and carry a zero mask.
func (ep *Episode) Segment(start, length int) *Episode {
	d := ep.ObsDim()
	out := New(d)
	out.Observations.SetShape([]int{length, d}, nil, []string{"Time", "Obs"})
	for _, tsr := range []*etensor.Float32{out.Actions, out.Rewards, out.Ends, out.Mask} {
		tsr.SetShape([]int{length}, nil, []string{"Time"})
	}
	for i := 0; i < length; i++ {
		t := start + i
		if t < 0 || t >= ep.Len() {
			continue
		}
		copy(out.Observations.Values[i*d:(i+1)*d], ep.Observations.Values[t*d:(t+1)*d])
		out.Actions.Values[i] = ep.Actions.Values[t]
		out.Rewards.Values[i] = ep.Rewards.Values[t]
		out.Ends.Values[i] = ep.Ends.Values[t]
		out.Mask.Values[i] = ep.Mask.Values[t]
	}
	return out
}

// Metrics are per-episode diagnostic statistics.
type Metrics struct {
	Return float64 `desc:"mask-weighted sum of rewards"`
	Length int     `desc:"number of valid steps"`
}

// ComputeMetrics computes the diagnostic statistics for the episode.
func (ep *Episode) ComputeMetrics() Metrics {
	var ret float64
	length := 0
	for t := 0; t < ep.Len(); t++ {
		if ep.Mask.Values[t] == 0 {
			continue
		}
		ret += float64(ep.Rewards.Values[t] * ep.Mask.Values[t])
		length++
	}
	return Metrics{Return: ret, Length: length}
}

type episodeFile struct {
	ObsDim       int       `json:"obs_dim"`
	Observations []float32 `json:"observations"`
	Actions      []float32 `json:"actions"`
	Rewards      []float32 `json:"rewards"`
	Ends         []float32 `json:"ends"`
	Mask         []float32 `json:"mask"`
}

// Save writes the episode as JSON to the given path.
func (ep *Episode) Save(path string) error {
	ef := episodeFile{
		ObsDim:       ep.ObsDim(),
		Observations: ep.Observations.Values,
		Actions:      ep.Actions.Values,
		Rewards:      ep.Rewards.Values,
		Ends:         ep.Ends.Values,
		Mask:         ep.Mask.Values,
	}
	b, err := json.Marshal(&ef)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, b, 0644)
}

// Open reads an episode previously written by Save.
func Open(path string) (*Episode, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ef := episodeFile{}
	if err := json.Unmarshal(b, &ef); err != nil {
		return nil, fmt.Errorf("episode: parsing %s: %w", path, err)
	}
	if ef.ObsDim < 1 {
		return nil, fmt.Errorf("episode: %s has invalid obs_dim %d", path, ef.ObsDim)
	}
	t := len(ef.Actions)
	ep := New(ef.ObsDim)
	ep.Observations.SetShape([]int{t, ef.ObsDim}, nil, []string{"Time", "Obs"})
	copy(ep.Observations.Values, ef.Observations)
	for _, pair := range []struct {
		tsr *etensor.Float32
		val []float32
	}{
		{ep.Actions, ef.Actions},
		{ep.Rewards, ef.Rewards},
		{ep.Ends, ef.Ends},
		{ep.Mask, ef.Mask},
	} {
		pair.tsr.SetShape([]int{t}, nil, []string{"Time"})
		copy(pair.tsr.Values, pair.val)
	}
	return ep, nil
}
