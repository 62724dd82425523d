package train

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Astera-org/imagent/library/agent"
	"github.com/Astera-org/imagent/library/checkpoint"
	"github.com/Astera-org/imagent/library/config"
	"github.com/Astera-org/imagent/library/data"
	"github.com/Astera-org/imagent/library/metrics"
)

// fakeComp is a component with a constant loss, so aggregated metrics
// are exactly predictable. Backward adds the scale into a single
// parameter's gradient, so accumulated gradient magnitudes are too.
type fakeComp struct {
	name      string
	loss      float64
	subLosses map[string]float64

	param          *agent.Param
	lossCalls      int
	backwardScales []float64
	evalCalls      int
	training       bool
}

func newFakeComp(name string, loss float64) *fakeComp {
	return &fakeComp{name: name, loss: loss, param: agent.NewParam("w", 1)}
}

func (fc *fakeComp) Name() string { return fc.name }

func (fc *fakeComp) ComputeLoss(b *data.Batch, ctx agent.LossContext) (*agent.LossBundle, error) {
	fc.lossCalls++
	losses := make(map[string]float64, len(fc.subLosses))
	for k, v := range fc.subLosses {
		losses[k] = v
	}
	return &agent.LossBundle{Total: fc.loss, Losses: losses}, nil
}

func (fc *fakeComp) Backward(scale float64) {
	fc.backwardScales = append(fc.backwardScales, scale)
	fc.param.Grad.SetVec(0, fc.param.Grad.AtVec(0)+scale)
}

func (fc *fakeComp) Parameters() []*agent.Param { return []*agent.Param{fc.param} }
func (fc *fakeComp) Train()                     { fc.training = true }
func (fc *fakeComp) Eval()                      { fc.training = false; fc.evalCalls++ }

// Imagine returns all-valid rollouts with unit rewards, so every imagined
// episode has return == length == horizon.
func (fc *fakeComp) Imagine(b *data.Batch, tok, wm agent.Component, horizon int) (*data.Batch, error) {
	out := data.NewBatch(b.NumSamples(), horizon, b.ObsDim())
	for i := 0; i < b.NumSamples(); i++ {
		for h := 0; h < horizon; h++ {
			out.Actions.Values[i*horizon+h] = float32((i + h) % 2)
			out.Rewards.Values[i*horizon+h] = 1
			out.Mask.Values[i*horizon+h] = 1
		}
	}
	return out, nil
}

// fakeOpt counts optimizer steps.
type fakeOpt struct{ steps int }

func (fo *fakeOpt) Step(params []*agent.Param) { fo.steps++ }
func (fo *fakeOpt) State() ([]byte, error)     { return []byte(`{}`), nil }
func (fo *fakeOpt) LoadState(b []byte) error   { return nil }

// fakeSource hands out all-valid batches and finite traversals, and
// counts how the trainer uses it.
type fakeSource struct {
	obsDim      int
	travBatches int // batches each traversal yields

	sampleCalls int
	traversals  int
	clears      int
	seen        int
}

func (fs *fakeSource) batch(n, t int) *data.Batch {
	b := data.NewBatch(n, t, fs.obsDim)
	for i := range b.Mask.Values {
		b.Mask.Values[i] = 1
	}
	return b
}

func (fs *fakeSource) SampleBatch(numSamples, seqLen int, weights []float64, sampleFromStart bool) (*data.Batch, error) {
	fs.sampleCalls++
	return fs.batch(numSamples, seqLen), nil
}

func (fs *fakeSource) Traverse(numSamples, seqLen int) data.Traversal {
	fs.traversals++
	return &fakeTraversal{src: fs, n: numSamples, t: seqLen, left: fs.travBatches}
}

func (fs *fakeSource) Clear()                            { fs.clears++ }
func (fs *fakeSource) NumEpisodes() int                  { return 1 }
func (fs *fakeSource) NumSeenEpisodes() int              { return fs.seen }
func (fs *fakeSource) SetNumSeenEpisodes(n int)          { fs.seen = n }
func (fs *fakeSource) UpdateDiskCheckpoint(string) error { return nil }
func (fs *fakeSource) LoadDiskCheckpoint(string) error   { return nil }

type fakeTraversal struct {
	src  *fakeSource
	n, t int
	left int
}

func (ft *fakeTraversal) Next() (*data.Batch, bool) {
	if ft.left == 0 {
		return nil, false
	}
	ft.left--
	return ft.src.batch(ft.n, ft.t), true
}

// fakeCollector records the epochs it was asked to collect on.
type fakeCollector struct {
	epochs []int
}

func (fc *fakeCollector) Collect(actor agent.Actor, epoch int) ([]metrics.Event, error) {
	fc.epochs = append(fc.epochs, epoch)
	return []metrics.Event{metrics.Scalar(metrics.Train, "collector", "episode_return", 1)}, nil
}

// fakeSink keeps every logged epoch's events for inspection.
type fakeSink struct {
	epochs   []int
	events   map[int][]metrics.Event
	finished int
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(map[int][]metrics.Event)}
}

func (fs *fakeSink) LogEpoch(epoch int, events []metrics.Event) error {
	fs.epochs = append(fs.epochs, epoch)
	fs.events[epoch] = append([]metrics.Event{}, events...)
	return nil
}

func (fs *fakeSink) Finish() error {
	fs.finished++
	return nil
}

func (fs *fakeSink) has(epoch int, key string) bool {
	for _, ev := range fs.events[epoch] {
		if ev.Key() == key {
			return true
		}
	}
	return false
}

func (fs *fakeSink) value(t *testing.T, epoch int, key string) float64 {
	t.Helper()
	for _, ev := range fs.events[epoch] {
		if ev.Key() == key {
			return ev.Value
		}
	}
	t.Fatalf("epoch %d has no event %q", epoch, key)
	return 0
}

// testConfig is a small config with the staggered activation schedule
// 0 / 2 / 4 and evaluation on every 5th epoch.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Common.Epochs = 10
	cfg.Common.SequenceLength = 4
	cfg.Common.DoCheckpoint = true
	cfg.Training.Tokenizer = config.ComponentTraining{StepsPerEpoch: 2, BatchNumSamples: 2, GradAccSteps: 1}
	cfg.Training.WorldModel = config.ComponentTraining{StartAfterEpochs: 2, StepsPerEpoch: 2, BatchNumSamples: 2, GradAccSteps: 1}
	cfg.Training.ActorCritic = config.ComponentTraining{StartAfterEpochs: 4, StepsPerEpoch: 2, BatchNumSamples: 2, GradAccSteps: 1, BurnIn: 2}
	cfg.Evaluation.Every = 5
	cfg.Evaluation.Tokenizer = config.ComponentEvaluation{BatchNumSamples: 2}
	cfg.Evaluation.WorldModel = config.ComponentEvaluation{StartAfterEpochs: 2, BatchNumSamples: 2}
	cfg.Evaluation.ActorCritic = config.ComponentEvaluation{StartAfterEpochs: 4, Horizon: 3, NumEpisodesToSave: 2}
	cfg.CollectTrain.StopAfterEpochs = 3
	return cfg
}

type fixture struct {
	tr   *Trainer
	tok  *fakeComp
	wm   *fakeComp
	ac   *fakeComp
	opts [3]*fakeOpt
	src  *fakeSource
	test *fakeSource
	sink *fakeSink
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	dir, err := ioutil.TempDir("", "trainer_test")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	fx := &fixture{
		tok:  newFakeComp("tokenizer", 2),
		wm:   newFakeComp("world_model", 3),
		ac:   newFakeComp("actor_critic", 4),
		opts: [3]*fakeOpt{{}, {}, {}},
		src:  &fakeSource{obsDim: 3, travBatches: 2},
		test: &fakeSource{obsDim: 3, travBatches: 2},
		sink: newFakeSink(),
	}
	fx.tr = &Trainer{
		Config: cfg,
		Agent:  agent.New(fx.tok, fx.wm, fx.ac),
		Optimizers: checkpoint.Optimizers{
			Tokenizer:   fx.opts[0],
			WorldModel:  fx.opts[1],
			ActorCritic: fx.opts[2],
		},
		TrainData:  fx.src,
		TestData:   fx.test,
		Checkpoint: checkpoint.NewManager(filepath.Join(dir, "checkpoints"), cfg.Evaluation.Should),
		Sink:       fx.sink,
		NumActions: 2,
	}
	return fx
}

func TestInitRequiresABranch(t *testing.T) {
	cfg := testConfig()
	cfg.Training.Should = false
	cfg.Evaluation.Should = false
	fx := newFixture(t, cfg)
	if err := fx.tr.Init(); err == nil {
		t.Errorf("expected error when neither branch is enabled")
	}
}

func TestInitRequiresCollaborators(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.tr.TrainData = nil
	if err := fx.tr.Init(); err == nil {
		t.Errorf("expected error for missing training batch source")
	}

	fx = newFixture(t, testConfig())
	fx.tr.Sink = nil
	if err := fx.tr.Init(); err == nil {
		t.Errorf("expected error for missing sink")
	}
}

func TestActivationGating(t *testing.T) {
	fx := newFixture(t, testConfig())

	// epoch 2: tokenizer only; world model and actor-critic are gated
	evs, err := fx.tr.trainAgent(2)
	if err != nil {
		t.Fatalf("trainAgent: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range evs {
		seen[ev.Component] = true
	}
	if !seen["tokenizer"] || seen["world_model"] || seen["actor_critic"] {
		t.Errorf("epoch 2 components trained: %v", seen)
	}
	if fx.opts[1].steps != 0 || fx.opts[2].steps != 0 {
		t.Errorf("gated components must not take optimizer steps")
	}
	// eval-mode toggles happen whether or not the slot trained
	if fx.wm.evalCalls == 0 || fx.ac.evalCalls == 0 {
		t.Errorf("every component must be switched to eval mode after its slot")
	}

	// epoch 3 activates the world model, epoch 5 the actor-critic
	if _, err := fx.tr.trainAgent(3); err != nil {
		t.Fatalf("trainAgent: %v", err)
	}
	if fx.opts[1].steps == 0 {
		t.Errorf("world model should train on epoch 3")
	}
	if fx.opts[2].steps != 0 {
		t.Errorf("actor-critic should still be gated on epoch 3")
	}
	if _, err := fx.tr.trainAgent(5); err != nil {
		t.Fatalf("trainAgent: %v", err)
	}
	if fx.opts[2].steps == 0 {
		t.Errorf("actor-critic should train on epoch 5")
	}
}

func TestLossAveragesIndependentOfGradAcc(t *testing.T) {
	for _, gradAcc := range []int{1, 2, 4} {
		cfg := testConfig()
		cfg.Training.Tokenizer.StepsPerEpoch = 4
		cfg.Training.Tokenizer.GradAccSteps = gradAcc
		fx := newFixture(t, cfg)

		evs, err := fx.tr.trainAgent(1)
		if err != nil {
			t.Fatalf("trainAgent: %v", err)
		}
		var total float64
		found := false
		for _, ev := range evs {
			if ev.Key() == "tokenizer/train/total_loss" {
				total = ev.Value
				found = true
			}
		}
		if !found {
			t.Fatalf("gradAcc %d: no total_loss event", gradAcc)
		}
		// constant per-batch loss of 2 averages to 2 for any accumulation factor
		if math.Abs(total-2) > 1e-12 {
			t.Errorf("gradAcc %d: total_loss = %v, want 2", gradAcc, total)
		}

		// each optimizer step accumulates gradient scales summing to 1
		if fx.opts[0].steps != 4 {
			t.Errorf("gradAcc %d: optimizer steps = %d, want 4", gradAcc, fx.opts[0].steps)
		}
		if len(fx.tok.backwardScales) != 4*gradAcc {
			t.Fatalf("gradAcc %d: %d Backward calls, want %d", gradAcc, len(fx.tok.backwardScales), 4*gradAcc)
		}
		for _, s := range fx.tok.backwardScales {
			if math.Abs(s-1/float64(gradAcc)) > 1e-12 {
				t.Errorf("gradAcc %d: Backward scale = %v, want %v", gradAcc, s, 1/float64(gradAcc))
			}
		}
	}
}

func TestEvalTraversesOncePerComponent(t *testing.T) {
	fx := newFixture(t, testConfig())

	evs, err := fx.tr.evalAgent(5)
	if err != nil {
		t.Fatalf("evalAgent: %v", err)
	}
	// tokenizer and world model each consume one fresh traversal
	if fx.test.traversals != 2 {
		t.Errorf("traversals = %d, want 2", fx.test.traversals)
	}
	for _, ev := range evs {
		if ev.Key() == "tokenizer/eval/eval_batches" && ev.Value != 2 {
			t.Errorf("tokenizer eval batches = %v, want 2", ev.Value)
		}
		if ev.Key() == "tokenizer/eval/total_loss" && math.Abs(ev.Value-2) > 1e-12 {
			t.Errorf("tokenizer eval loss = %v, want the per-batch average 2", ev.Value)
		}
		if ev.Key() == "world_model/eval/total_loss" && math.Abs(ev.Value-3) > 1e-12 {
			t.Errorf("world model eval loss = %v, want 3", ev.Value)
		}
	}
	// no gradients accumulate during evaluation
	if g := fx.tok.param.Grad.AtVec(0); g != 0 {
		t.Errorf("evaluation accumulated gradient %v", g)
	}
}

func TestEvalEmptyTraversal(t *testing.T) {
	fx := newFixture(t, testConfig())
	fx.test.travBatches = 0

	evs, err := fx.tr.evalAgent(3)
	if err != nil {
		t.Fatalf("evalAgent: %v", err)
	}
	// no losses, but the zero batch count is surfaced per component
	for _, ev := range evs {
		if ev.Name != "eval_batches" {
			t.Errorf("empty dataset produced loss event %q", ev.Key())
		}
		if ev.Value != 0 {
			t.Errorf("eval_batches = %v, want 0", ev.Value)
		}
	}
	if len(evs) != 2 {
		t.Errorf("got %d events, want one eval_batches per evaluated component", len(evs))
	}
}

func TestImaginationInspection(t *testing.T) {
	fx := newFixture(t, testConfig())

	evs, err := fx.tr.inspectImagination(7)
	if err != nil {
		t.Fatalf("inspectImagination: %v", err)
	}
	// 2 episodes, 4 events each
	if len(evs) != 8 {
		t.Fatalf("got %d events, want 8", len(evs))
	}
	var ids []float64
	for _, ev := range evs {
		switch ev.Name {
		case "episode_num":
			ids = append(ids, ev.Value)
		case "episode_length":
			if ev.Value != 3 {
				t.Errorf("imagined episode length = %v, want the horizon 3", ev.Value)
			}
		case "episode_return":
			if ev.Value != 3 {
				t.Errorf("imagined episode return = %v, want 3", ev.Value)
			}
		case "action_histogram":
			if ev.Hist == nil {
				t.Fatalf("histogram event has no payload")
			}
			var n int64
			for _, c := range ev.Hist.Values {
				n += c
			}
			if n != 3 {
				t.Errorf("histogram counts %d actions, want 3", n)
			}
		}
	}
	// epoch 7, threshold 4, 2 per inspection: ids 4 and 5
	if len(ids) != 2 || ids[0] != 4 || ids[1] != 5 {
		t.Errorf("episode ids = %v, want [4 5]", ids)
	}
}

func TestRunStaggeredSchedule(t *testing.T) {
	fx := newFixture(t, testConfig())
	if err := fx.tr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	trainCol := &fakeCollector{}
	testCol := &fakeCollector{}
	fx.tr.TrainCollector = trainCol
	fx.tr.TestCollector = testCol

	if err := fx.tr.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fx.sink.epochs) != 10 {
		t.Fatalf("logged %d epochs, want 10", len(fx.sink.epochs))
	}
	for epoch := 1; epoch <= 10; epoch++ {
		wantTok := true
		wantWM := epoch > 2
		wantAC := epoch > 4
		if fx.sink.has(epoch, "tokenizer/train/total_loss") != wantTok {
			t.Errorf("epoch %d: tokenizer trained = %v, want %v", epoch, !wantTok, wantTok)
		}
		if fx.sink.has(epoch, "world_model/train/total_loss") != wantWM {
			t.Errorf("epoch %d: world model trained = %v, want %v", epoch, !wantWM, wantWM)
		}
		if fx.sink.has(epoch, "actor_critic/train/total_loss") != wantAC {
			t.Errorf("epoch %d: actor-critic trained = %v, want %v", epoch, !wantAC, wantAC)
		}
		wantEval := epoch%5 == 0
		if fx.sink.has(epoch, "tokenizer/eval/total_loss") != wantEval {
			t.Errorf("epoch %d: evaluated = %v, want %v", epoch, !wantEval, wantEval)
		}
		if !fx.sink.has(epoch, "duration") {
			t.Errorf("epoch %d: missing duration event", epoch)
		}
	}

	// collection windows
	if len(trainCol.epochs) != 3 {
		t.Errorf("training collection ran on epochs %v, want the first 3", trainCol.epochs)
	}
	if len(testCol.epochs) != 2 || testCol.epochs[0] != 5 || testCol.epochs[1] != 10 {
		t.Errorf("evaluation collection ran on epochs %v, want [5 10]", testCol.epochs)
	}
	if fx.test.clears != 2 {
		t.Errorf("evaluation dataset cleared %d times, want once per eval round", fx.test.clears)
	}

	// imagination ids on eval epochs 5 and 10: (5-1-4)*2 = 0.. and (10-1-4)*2 = 10..
	if got := fx.sink.value(t, 5, "imagination/episode_num"); got != 0 {
		t.Errorf("first imagination id on epoch 5 = %v, want 0", got)
	}
	if got := fx.sink.value(t, 10, "imagination/episode_num"); got != 10 {
		t.Errorf("first imagination id on epoch 10 = %v, want 10", got)
	}

	if fx.sink.finished != 1 {
		t.Errorf("sink finished %d times, want 1", fx.sink.finished)
	}
}

func TestRunStopEarly(t *testing.T) {
	fx := newFixture(t, testConfig())
	if err := fx.tr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	fx.tr.Callbacks = []Callbacks{{
		StopEarly: func() bool { return fx.tr.Epoch.Cur >= 2 },
	}}

	if err := fx.tr.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fx.sink.epochs) != 2 {
		t.Errorf("logged %d epochs, want to stop after 2", len(fx.sink.epochs))
	}
	if fx.sink.finished != 1 {
		t.Errorf("sink must still be finished after an early stop")
	}
}
