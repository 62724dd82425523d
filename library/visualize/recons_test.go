package visualize

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/emer/etable/etensor"

	"github.com/Astera-org/imagent/library/data"
)

func TestTileDims(t *testing.T) {
	cases := []struct{ d, w, h int }{
		{1, 1, 1},
		{4, 2, 2},
		{5, 3, 2},
		{9, 3, 3},
		{16, 4, 4},
	}
	for _, c := range cases {
		w, h := tileDims(c.d)
		if w != c.w || h != c.h {
			t.Errorf("tileDims(%d) = (%d, %d), want (%d, %d)", c.d, w, h, c.w, c.h)
		}
		if w*h < c.d {
			t.Errorf("tileDims(%d) tile too small", c.d)
		}
	}
}

func TestSaveReconstructions(t *testing.T) {
	dir, _ := ioutil.TempDir("", "visualize_test")
	defer os.RemoveAll(dir)
	rs, err := NewReconsSaver(filepath.Join(dir, "reconstructions"))
	if err != nil {
		t.Fatalf("NewReconsSaver: %v", err)
	}

	b := data.NewBatch(2, 3, 4)
	for i := range b.Observations.Values {
		b.Observations.Values[i] = float32(i) * 0.1
	}
	recons := etensor.NewFloat32([]int{2, 3, 4}, nil, []string{"Sample", "Time", "Obs"})
	copy(recons.Values, b.Observations.Values)

	if err := rs.SaveReconstructions(b, recons, 5); err != nil {
		t.Fatalf("SaveReconstructions: %v", err)
	}
	path := filepath.Join(rs.Dir, "epoch_00005.png")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
	if info.Size() == 0 {
		t.Errorf("saved image is empty")
	}
}

func TestSaveConstantBatch(t *testing.T) {
	dir, _ := ioutil.TempDir("", "visualize_test")
	defer os.RemoveAll(dir)
	rs, err := NewReconsSaver(dir)
	if err != nil {
		t.Fatalf("NewReconsSaver: %v", err)
	}
	// all-equal values must not divide by a zero range
	b := data.NewBatch(1, 2, 4)
	recons := etensor.NewFloat32([]int{1, 2, 4}, nil, []string{"Sample", "Time", "Obs"})
	if err := rs.SaveReconstructions(b, recons, 1); err != nil {
		t.Fatalf("SaveReconstructions on a constant batch: %v", err)
	}
}
