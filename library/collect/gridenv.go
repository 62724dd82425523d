package collect

// GridEnv is a small deterministic corridor environment for local runs
// and tests: the agent starts at one end, action 1 moves right, action 0
// moves left, and reaching the far end pays 1 and terminates. Episodes
// also terminate after MaxSteps.
type GridEnv struct {
	Size     int
	MaxSteps int

	pos   int
	steps int
}

func NewGridEnv(size, maxSteps int) *GridEnv {
	return &GridEnv{Size: size, MaxSteps: maxSteps}
}

func (ge *GridEnv) NumActions() int { return 2 }
func (ge *GridEnv) ObsDim() int     { return ge.Size }

func (ge *GridEnv) obs() []float32 {
	o := make([]float32, ge.Size)
	o[ge.pos] = 1
	return o
}

func (ge *GridEnv) Reset() []float32 {
	ge.pos = 0
	ge.steps = 0
	return ge.obs()
}

func (ge *GridEnv) Step(action int) ([]float32, float32, bool) {
	ge.steps++
	if action == 1 {
		if ge.pos < ge.Size-1 {
			ge.pos++
		}
	} else if ge.pos > 0 {
		ge.pos--
	}
	var reward float32
	done := false
	if ge.pos == ge.Size-1 {
		reward = 1
		done = true
	}
	if ge.steps >= ge.MaxSteps {
		done = true
	}
	return ge.obs(), reward, done
}
