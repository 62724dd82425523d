// Package data provides fixed-shape batches of episode fragments and the
// batch source contract the trainer samples from.
package data

import (
	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/episode"
)

// Canonical batch field names.
const (
	FieldObservations = "observations"
	FieldActions      = "actions"
	FieldRewards      = "rewards"
	FieldEnds         = "ends"
	FieldMask         = "mask_padding"
)

// Batch is a fixed-shape stack of episode fragments. Observations are
// (N, T, ObsDim), every other field is (N, T).
type Batch struct {
	Observations *etensor.Float32
	Actions      *etensor.Float32
	Rewards      *etensor.Float32
	Ends         *etensor.Float32
	Mask         *etensor.Float32
}

// NewBatch allocates a zeroed batch of n samples of t steps each.
func NewBatch(n, t, obsDim int) *Batch {
	b := &Batch{}
	b.Observations = etensor.NewFloat32([]int{n, t, obsDim}, nil, []string{"Sample", "Time", "Obs"})
	b.Actions = etensor.NewFloat32([]int{n, t}, nil, []string{"Sample", "Time"})
	b.Rewards = etensor.NewFloat32([]int{n, t}, nil, []string{"Sample", "Time"})
	b.Ends = etensor.NewFloat32([]int{n, t}, nil, []string{"Sample", "Time"})
	b.Mask = etensor.NewFloat32([]int{n, t}, nil, []string{"Sample", "Time"})
	return b
}

// NumSamples returns the leading batch dimension.
func (b *Batch) NumSamples() int {
	return b.Actions.Dim(0)
}

// SeqLen returns the per-sample sequence length.
func (b *Batch) SeqLen() int {
	return b.Actions.Dim(1)
}

// ObsDim returns the per-step observation dimension.
func (b *Batch) ObsDim() int {
	return b.Observations.Dim(2)
}

// Field returns the named tensor field, or nil for an unknown name.
func (b *Batch) Field(name string) *etensor.Float32 {
	switch name {
	case FieldObservations:
		return b.Observations
	case FieldActions:
		return b.Actions
	case FieldRewards:
		return b.Rewards
	case FieldEnds:
		return b.Ends
	case FieldMask:
		return b.Mask
	}
	return nil
}

// SetSample copies an episode fragment into row i. The fragment must have
// exactly SeqLen steps and the batch's observation dimension.
func (b *Batch) SetSample(i int, frag *episode.Episode) {
	t := b.SeqLen()
	d := b.ObsDim()
	copy(b.Observations.Values[i*t*d:(i+1)*t*d], frag.Observations.Values)
	copy(b.Actions.Values[i*t:(i+1)*t], frag.Actions.Values)
	copy(b.Rewards.Values[i*t:(i+1)*t], frag.Rewards.Values)
	copy(b.Ends.Values[i*t:(i+1)*t], frag.Ends.Values)
	copy(b.Mask.Values[i*t:(i+1)*t], frag.Mask.Values)
}

// Sample extracts row i back out as an episode record.
func (b *Batch) Sample(i int) *episode.Episode {
	t := b.SeqLen()
	d := b.ObsDim()
	ep := episode.New(d)
	ep.Observations.SetShape([]int{t, d}, nil, []string{"Time", "Obs"})
	copy(ep.Observations.Values, b.Observations.Values[i*t*d:(i+1)*t*d])
	for _, pair := range []struct {
		dst, src *etensor.Float32
	}{
		{ep.Actions, b.Actions},
		{ep.Rewards, b.Rewards},
		{ep.Ends, b.Ends},
		{ep.Mask, b.Mask},
	} {
		pair.dst.SetShape([]int{t}, nil, []string{"Time"})
		copy(pair.dst.Values, pair.src.Values[i*t:(i+1)*t])
	}
	return ep
}
