package data

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/Astera-org/imagent/library/episode"
)

// EpisodeDataset is an in-memory BatchSource over full episodes, bounded
// by a maximum episode count with oldest-first eviction.
type EpisodeDataset struct {
	ObsDim      int `desc:"per-step observation dimension"`
	MaxEpisodes int `desc:"capacity in episodes, 0 for unbounded"`

	Episodes []*episode.Episode
	numSeen  int
	rng      *rand.Rand
}

func NewEpisodeDataset(obsDim, maxEpisodes int, seed int64) *EpisodeDataset {
	return &EpisodeDataset{
		ObsDim:      obsDim,
		MaxEpisodes: maxEpisodes,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// AppendEpisode stores a finished episode, evicting the oldest episode if
// the dataset is at capacity. It returns the episode's running index.
func (ds *EpisodeDataset) AppendEpisode(ep *episode.Episode) int {
	ds.Episodes = append(ds.Episodes, ep)
	if ds.MaxEpisodes > 0 && len(ds.Episodes) > ds.MaxEpisodes {
		ds.Episodes = ds.Episodes[1:]
	}
	id := ds.numSeen
	ds.numSeen++
	return id
}

func (ds *EpisodeDataset) NumEpisodes() int        { return len(ds.Episodes) }
func (ds *EpisodeDataset) NumSeenEpisodes() int    { return ds.numSeen }
func (ds *EpisodeDataset) SetNumSeenEpisodes(n int) { ds.numSeen = n }

// Clear drops the stored episodes but keeps the seen-episode counter, so
// identifiers stay monotonic across evaluation rounds.
func (ds *EpisodeDataset) Clear() {
	ds.Episodes = nil
}

// episodeWeights expands per-bucket sampling weights into one probability
// per stored episode. Buckets partition the store by age, oldest first;
// nil weights mean uniform.
func (ds *EpisodeDataset) episodeWeights(weights []float64) []float64 {
	n := len(ds.Episodes)
	probs := make([]float64, n)
	if len(weights) == 0 {
		for i := range probs {
			probs[i] = 1
		}
	} else {
		k := len(weights)
		for i := range probs {
			bucket := i * k / n
			size := (bucket+1)*n/k - bucket*n/k
			if size < 1 {
				size = 1
			}
			probs[i] = weights[bucket] / float64(size)
		}
	}
	var total float64
	for _, p := range probs {
		total += p
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

func (ds *EpisodeDataset) sampleEpisode(probs []float64) *episode.Episode {
	r := ds.rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return ds.Episodes[i]
		}
	}
	return ds.Episodes[len(ds.Episodes)-1]
}

// SampleBatch draws numSamples fragments of seqLen steps each. With
// sampleFromStart the fragment begins at a random valid step and is
// right-padded when it runs off the end of the episode; otherwise the
// fragment ends at a random step and is left-padded when it would run off
// the front of the episode.
func (ds *EpisodeDataset) SampleBatch(numSamples, seqLen int, weights []float64, sampleFromStart bool) (*Batch, error) {
	if len(ds.Episodes) == 0 {
		return nil, fmt.Errorf("data: sampling from an empty dataset")
	}
	probs := ds.episodeWeights(weights)
	b := NewBatch(numSamples, seqLen, ds.ObsDim)
	for i := 0; i < numSamples; i++ {
		ep := ds.sampleEpisode(probs)
		var start int
		if sampleFromStart {
			start = ds.rng.Intn(ep.Len())
		} else {
			stop := 1 + ds.rng.Intn(ep.Len())
			start = stop - seqLen
		}
		b.SetSample(i, ep.Segment(start, seqLen))
	}
	return b, nil
}

// Traverse returns an iterator producing every stored window exactly once,
// in episode order, in batches of numSamples with a final shorter batch
// when the window count is not divisible.
func (ds *EpisodeDataset) Traverse(numSamples, seqLen int) Traversal {
	tr := &traversal{ds: ds, numSamples: numSamples, seqLen: seqLen}
	for ei, ep := range ds.Episodes {
		for start := 0; start < ep.Len(); start += seqLen {
			tr.windows = append(tr.windows, window{episode: ei, start: start})
		}
	}
	return tr
}

type window struct {
	episode int
	start   int
}

type traversal struct {
	ds         *EpisodeDataset
	numSamples int
	seqLen     int
	windows    []window
	cursor     int
}

func (tr *traversal) Next() (*Batch, bool) {
	remaining := len(tr.windows) - tr.cursor
	if remaining <= 0 {
		return nil, false
	}
	n := tr.numSamples
	if remaining < n {
		n = remaining
	}
	b := NewBatch(n, tr.seqLen, tr.ds.ObsDim)
	for i := 0; i < n; i++ {
		w := tr.windows[tr.cursor+i]
		ep := tr.ds.Episodes[w.episode]
		b.SetSample(i, ep.Segment(w.start, tr.seqLen))
	}
	tr.cursor += n
	return b, true
}

type datasetMeta struct {
	ObsDim      int `json:"obs_dim"`
	MaxEpisodes int `json:"max_episodes"`
	NumSeen     int `json:"num_seen_episodes"`
	NumEpisodes int `json:"num_episodes"`
}

// UpdateDiskCheckpoint rewrites the dataset's on-disk state under dir.
func (ds *EpisodeDataset) UpdateDiskCheckpoint(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	meta := datasetMeta{ObsDim: ds.ObsDim, MaxEpisodes: ds.MaxEpisodes, NumSeen: ds.numSeen, NumEpisodes: len(ds.Episodes)}
	b, err := json.Marshal(&meta)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "meta.json"), b, 0644); err != nil {
		return err
	}
	for i, ep := range ds.Episodes {
		if err := ep.Save(filepath.Join(dir, fmt.Sprintf("ep_%06d.json", i))); err != nil {
			return err
		}
	}
	return nil
}

// LoadDiskCheckpoint replaces the in-memory state with the state under dir.
func (ds *EpisodeDataset) LoadDiskCheckpoint(dir string) error {
	b, err := ioutil.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return fmt.Errorf("data: reading dataset checkpoint: %w", err)
	}
	meta := datasetMeta{}
	if err := json.Unmarshal(b, &meta); err != nil {
		return fmt.Errorf("data: parsing dataset checkpoint: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "ep_*.json"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	if len(paths) != meta.NumEpisodes {
		return fmt.Errorf("data: dataset checkpoint lists %d episodes, found %d", meta.NumEpisodes, len(paths))
	}
	eps := make([]*episode.Episode, 0, len(paths))
	for _, p := range paths {
		ep, err := episode.Open(p)
		if err != nil {
			return err
		}
		eps = append(eps, ep)
	}
	ds.ObsDim = meta.ObsDim
	ds.MaxEpisodes = meta.MaxEpisodes
	ds.numSeen = meta.NumSeen
	ds.Episodes = eps
	return nil
}
