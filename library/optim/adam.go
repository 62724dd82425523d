// Package optim provides optimizers over agent parameter vectors, with
// serializable internal state for checkpointing.
package optim

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/Astera-org/imagent/library/agent"
)

// Optimizer applies one update from accumulated gradients. State and
// LoadState round-trip the internal state exactly.
type Optimizer interface {
	Step(params []*agent.Param)
	State() ([]byte, error)
	LoadState(b []byte) error
}

// Adam is a standard Adam optimizer keyed by parameter name.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

func (ad *Adam) moments(p *agent.Param) ([]float64, []float64) {
	m, ok := ad.m[p.Name]
	if !ok || len(m) != p.Data.Len() {
		m = make([]float64, p.Data.Len())
		ad.m[p.Name] = m
	}
	v, ok := ad.v[p.Name]
	if !ok || len(v) != p.Data.Len() {
		v = make([]float64, p.Data.Len())
		ad.v[p.Name] = v
	}
	return m, v
}

// Step applies one Adam update from the params' accumulated gradients.
func (ad *Adam) Step(params []*agent.Param) {
	ad.step++
	c1 := 1 - math.Pow(ad.Beta1, float64(ad.step))
	c2 := 1 - math.Pow(ad.Beta2, float64(ad.step))
	for _, p := range params {
		m, v := ad.moments(p)
		for i := 0; i < p.Data.Len(); i++ {
			g := p.Grad.AtVec(i)
			m[i] = ad.Beta1*m[i] + (1-ad.Beta1)*g
			v[i] = ad.Beta2*v[i] + (1-ad.Beta2)*g*g
			mhat := m[i] / c1
			vhat := v[i] / c2
			p.Data.SetVec(i, p.Data.AtVec(i)-ad.LR*mhat/(math.Sqrt(vhat)+ad.Eps))
		}
	}
}

type adamState struct {
	Step int                  `json:"step"`
	M    map[string][]float64 `json:"m"`
	V    map[string][]float64 `json:"v"`
}

func (ad *Adam) State() ([]byte, error) {
	return json.Marshal(adamState{Step: ad.step, M: ad.m, V: ad.v})
}

func (ad *Adam) LoadState(b []byte) error {
	st := adamState{}
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("optim: parsing adam state: %w", err)
	}
	ad.step = st.Step
	ad.m = st.M
	ad.v = st.V
	if ad.m == nil {
		ad.m = make(map[string][]float64)
	}
	if ad.v == nil {
		ad.v = make(map[string][]float64)
	}
	return nil
}
