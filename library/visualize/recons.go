// Package visualize renders tokenizer reconstructions next to the
// original observations so drift in the learned representation is easy
// to eyeball across epochs.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/emer/etable/etensor"
	"github.com/goki/mat32"
	"golang.org/x/image/draw"

	"github.com/Astera-org/imagent/library/data"
)

// ReconsSaver writes one PNG per epoch: for every sample the original
// observation sequence on the top row and the reconstruction below it,
// each step rendered as a near-square grayscale tile.
type ReconsSaver struct {
	Dir   string
	Scale int `desc:"integer upscale factor for the saved image"`
}

func NewReconsSaver(dir string) (*ReconsSaver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("visualize: creating %s: %w", dir, err)
	}
	return &ReconsSaver{Dir: dir, Scale: 8}, nil
}

// tileDims picks a near-square tile for a flat observation vector.
func tileDims(obsDim int) (w, h int) {
	w = 1
	for w*w < obsDim {
		w++
	}
	h = (obsDim + w - 1) / w
	return w, h
}

// SaveReconstructions renders the batch and its reconstructions, tagged
// with the epoch.
func (rs *ReconsSaver) SaveReconstructions(b *data.Batch, recons *etensor.Float32, epoch int) error {
	n := b.NumSamples()
	t := b.SeqLen()
	d := b.ObsDim()
	tw, th := tileDims(d)

	// value range over both tensors, for a shared gray scale
	lo, hi := mat32.Inf(1), mat32.Inf(-1)
	for _, vals := range [][]float32{b.Observations.Values, recons.Values} {
		for _, v := range vals {
			lo = mat32.Min(lo, v)
			hi = mat32.Max(hi, v)
		}
	}
	if hi <= lo {
		hi = lo + 1
	}

	gap := 1
	width := t*(tw+gap) - gap
	height := n*2*(th+gap) - gap
	img := image.NewGray(image.Rect(0, 0, width, height))

	put := func(vals []float32, sample, step, rowPair int) {
		x0 := step * (tw + gap)
		y0 := (sample*2 + rowPair) * (th + gap)
		for i := 0; i < d; i++ {
			v := vals[(sample*t+step)*d+i]
			g := uint8(255 * (v - lo) / (hi - lo))
			img.SetGray(x0+i%tw, y0+i/tw, color.Gray{Y: g})
		}
	}
	for s := 0; s < n; s++ {
		for step := 0; step < t; step++ {
			put(b.Observations.Values, s, step, 0)
			put(recons.Values, s, step, 1)
		}
	}

	out := image.NewGray(image.Rect(0, 0, width*rs.Scale, height*rs.Scale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)

	path := filepath.Join(rs.Dir, fmt.Sprintf("epoch_%05d.png", epoch))
	if err := imgio.Save(path, out, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("visualize: saving %s: %w", path, err)
	}
	return nil
}
