package data

import "github.com/Astera-org/imagent/library/episode"

// BatchSource produces batches of episode fragments, either by weighted
// stochastic sampling (restartable, infinite) or exhaustive deterministic
// traversal (finite, covers the stored data exactly once). Sampling is
// read-only: nothing the trainer does through this interface changes the
// stored episodes.
type BatchSource interface {
	// SampleBatch draws numSamples fragments of seqLen steps. weights
	// bias which episodes are drawn (nil for uniform); sampleFromStart
	// anchors each fragment at its own first step, padding at the end,
	// instead of ending it at a random step with front padding.
	SampleBatch(numSamples, seqLen int, weights []float64, sampleFromStart bool) (*Batch, error)

	// Traverse returns a fresh iterator over the stored data. The
	// iterator is finite and not restartable mid-traversal.
	Traverse(numSamples, seqLen int) Traversal

	// Clear drops stored episodes; the seen-episode counter is kept.
	Clear()

	// NumEpisodes is the number of episodes currently stored.
	NumEpisodes() int

	// NumSeenEpisodes counts every episode ever appended, across Clears.
	NumSeenEpisodes() int

	// SetNumSeenEpisodes restores the seen counter from a checkpoint.
	SetNumSeenEpisodes(n int)

	// UpdateDiskCheckpoint persists the stored state into dir.
	UpdateDiskCheckpoint(dir string) error

	// LoadDiskCheckpoint restores the stored state from dir.
	LoadDiskCheckpoint(dir string) error
}

// Traversal is a finite, in-order iterator of batches. Next returns false
// once every stored window has been produced exactly once.
type Traversal interface {
	Next() (*Batch, bool)
}

// Appender is the write side of a dataset, used by collectors between
// epochs, never during a training phase.
type Appender interface {
	AppendEpisode(ep *episode.Episode) int
}
