package agent

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Param is one named parameter vector with its accumulated gradient.
// Matrices are stored flat; the owning component knows the shape.
type Param struct {
	Name string
	Data *mat.VecDense
	Grad *mat.VecDense
}

// NewParam returns a zero-initialized parameter of length n.
func NewParam(name string, n int) *Param {
	return &Param{
		Name: name,
		Data: mat.NewVecDense(n, nil),
		Grad: mat.NewVecDense(n, nil),
	}
}

// ZeroGrads clears the accumulated gradients of all params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.Grad.Zero()
	}
}

// GradNorm returns the global L2 norm over all gradients.
func GradNorm(params []*Param) float64 {
	var sq float64
	for _, p := range params {
		sq += mat.Dot(p.Grad, p.Grad)
	}
	return math.Sqrt(sq)
}

// ClipGradNorm rescales all gradients so their global norm does not
// exceed max. A max <= 0 disables clipping.
func ClipGradNorm(params []*Param, max float64) {
	if max <= 0 {
		return
	}
	norm := GradNorm(params)
	if norm <= max {
		return
	}
	scale := max / norm
	for _, p := range params {
		p.Grad.ScaleVec(scale, p.Grad)
	}
}
