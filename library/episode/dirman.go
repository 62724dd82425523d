package episode

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirManager retains episodes on disk for one logical stream (train, test
// or imagination), bounded by a maximum count with oldest-first eviction.
type DirManager struct {
	Dir         string `desc:"directory episodes are written into"`
	MaxEpisodes int    `desc:"maximum retained episode files, 0 disables saving"`

	saved []savedEpisode
}

type savedEpisode struct {
	id   int
	path string
}

// NewDirManager creates the directory and indexes any episodes already in
// it, so retention keeps working across a resumed run.
func NewDirManager(dir string, maxEpisodes int) (*DirManager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("episode: creating %s: %w", dir, err)
	}
	dm := &DirManager{Dir: dir, MaxEpisodes: maxEpisodes}
	paths, err := filepath.Glob(filepath.Join(dir, "episode_*.json"))
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		var id, epoch int
		if _, err := fmt.Sscanf(filepath.Base(p), "episode_%d_epoch_%d.json", &id, &epoch); err != nil {
			continue
		}
		dm.saved = append(dm.saved, savedEpisode{id: id, path: p})
	}
	sort.Slice(dm.saved, func(i, j int) bool { return dm.saved[i].id < dm.saved[j].id })
	return dm, nil
}

// NumSaved returns the number of episodes currently retained.
func (dm *DirManager) NumSaved() int {
	return len(dm.saved)
}

// Save writes the episode under its identifier and evicts the oldest
// retained episodes beyond the maximum count.
func (dm *DirManager) Save(ep *Episode, id, epoch int) error {
	if dm.MaxEpisodes <= 0 {
		return nil
	}
	path := filepath.Join(dm.Dir, fmt.Sprintf("episode_%d_epoch_%d.json", id, epoch))
	if err := ep.Save(path); err != nil {
		return fmt.Errorf("episode: saving %s: %w", path, err)
	}
	dm.saved = append(dm.saved, savedEpisode{id: id, path: path})
	for len(dm.saved) > dm.MaxEpisodes {
		oldest := dm.saved[0]
		dm.saved = dm.saved[1:]
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("episode: evicting %s: %w", oldest.path, err)
		}
	}
	return nil
}
