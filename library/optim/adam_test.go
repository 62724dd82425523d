package optim

import (
	"bytes"
	"testing"

	"github.com/Astera-org/imagent/library/agent"
)

func TestStepMovesAgainstGradient(t *testing.T) {
	p := agent.NewParam("w", 3)
	p.Data.SetVec(0, 1)
	p.Grad.SetVec(0, 2)
	p.Grad.SetVec(1, -1)

	ad := NewAdam(0.1)
	ad.Step([]*agent.Param{p})

	if p.Data.AtVec(0) >= 1 {
		t.Errorf("positive gradient should decrease param, got %v", p.Data.AtVec(0))
	}
	if p.Data.AtVec(1) <= 0 {
		t.Errorf("negative gradient should increase param, got %v", p.Data.AtVec(1))
	}
	if p.Data.AtVec(2) != 0 {
		t.Errorf("zero gradient should leave param untouched, got %v", p.Data.AtVec(2))
	}
}

func TestStateRoundTrip(t *testing.T) {
	p := agent.NewParam("w", 2)
	p.Grad.SetVec(0, 0.5)
	p.Grad.SetVec(1, -0.25)
	params := []*agent.Param{p}

	ad := NewAdam(0.01)
	ad.Step(params)
	ad.Step(params)

	st, err := ad.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	re := NewAdam(0.01)
	if err := re.LoadState(st); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	st2, err := re.State()
	if err != nil {
		t.Fatalf("State after load: %v", err)
	}
	if !bytes.Equal(st, st2) {
		t.Errorf("state not bit-identical after round trip:\n%s\n%s", st, st2)
	}

	// both optimizers make the same next update
	q1 := agent.NewParam("w", 2)
	q1.Data.SetVec(0, 1)
	q1.Grad.SetVec(0, 0.5)
	q2 := agent.NewParam("w", 2)
	q2.Data.SetVec(0, 1)
	q2.Grad.SetVec(0, 0.5)
	ad.Step([]*agent.Param{q1})
	re.Step([]*agent.Param{q2})
	if q1.Data.AtVec(0) != q2.Data.AtVec(0) {
		t.Errorf("restored optimizer diverged: %v vs %v", q1.Data.AtVec(0), q2.Data.AtVec(0))
	}
}

func TestLoadStateBadJSON(t *testing.T) {
	ad := NewAdam(0.01)
	if err := ad.LoadState([]byte("{")); err == nil {
		t.Errorf("expected error for malformed state")
	}
}
