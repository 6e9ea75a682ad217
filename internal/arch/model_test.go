package arch

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/nn"
	"github.com/heispv/biotrainer/internal/protocol"
)

func residueBatch(t *testing.T, dim int, lengths ...int) (dataset.Batch, protocol.Descriptor) {
	t.Helper()
	samples := make([]dataset.Sample, len(lengths))
	for s, length := range lengths {
		emb := make([][]float64, length)
		classes := make([]int, length)
		for i := range emb {
			row := make([]float64, dim)
			for j := range row {
				row[j] = float64(s+1)*0.1 + float64(i)*0.01 + float64(j)*0.001
			}
			emb[i] = row
			classes[i] = (s + i) % 3
		}
		samples[s] = dataset.Sample{ID: string(rune('a' + s)), Embedding: emb, ResidueClasses: classes}
	}
	part, err := dataset.NewPartition(protocol.ResidueToClass, samples)
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := dataset.NewAssembler(part, dataset.Options{BatchSize: len(lengths)})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, ok := asm.Batches(0).Next()
	if !ok {
		t.Fatalf("no batch")
	}
	return batch, part.Descriptor()
}

func pairBatch(t *testing.T, dim, length int) (dataset.Batch, protocol.Descriptor) {
	t.Helper()
	emb := make([][]float64, length)
	pairs := make([][]int, length)
	for i := range emb {
		row := make([]float64, dim)
		for j := range row {
			row[j] = float64(i)*0.1 + float64(j)*0.01
		}
		emb[i] = row
		pairRow := make([]int, length)
		for j := range pairRow {
			pairRow[j] = (i + j) % 2
		}
		pairs[i] = pairRow
	}
	part, err := dataset.NewPartition(protocol.ResiduePairToClass, []dataset.Sample{
		{ID: "a", Embedding: emb, PairClasses: pairs},
	})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := dataset.NewAssembler(part, dataset.Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()
	return batch, part.Descriptor()
}

func TestNewRejects(t *testing.T) {
	residue := protocol.MustDescribe(protocol.ResidueToClass)
	pair := protocol.MustDescribe(protocol.ResiduePairToClass)
	value := protocol.MustDescribe(protocol.SequenceToValue)

	cases := []struct {
		name    string
		desc    protocol.Descriptor
		cfg     Config
		dim     int
		classes int
	}{
		{name: "unknown model", desc: residue, cfg: Config{Name: "transformer"}, dim: 4, classes: 3},
		{name: "linear with hidden", desc: residue, cfg: Config{Name: NameLinear, Hidden: []int{8}}, dim: 4, classes: 3},
		{name: "linear with dropout", desc: residue, cfg: Config{Name: NameLinear, Dropout: 0.5}, dim: 4, classes: 3},
		{name: "one class", desc: residue, cfg: Config{}, dim: 4, classes: 1},
		{name: "zero dim", desc: residue, cfg: Config{}, dim: 0, classes: 3},
		{name: "pair protocol without pairwise model", desc: pair, cfg: Config{}, dim: 4, classes: 2},
		{name: "pairwise model without pair protocol", desc: value, cfg: Config{Name: NamePairwise}, dim: 4, classes: 0},
		{name: "bad activation", desc: residue, cfg: Config{Activation: "swish"}, dim: 4, classes: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.desc, tc.cfg, tc.dim, tc.classes, 1); !errors.Is(err, model.ErrConfiguration) {
				t.Fatalf("New: got err=%v want ErrConfiguration", err)
			}
		})
	}
}

func TestForwardAlignsWithRows(t *testing.T) {
	batch, desc := residueBatch(t, 4, 3, 2)
	m, err := New(desc, Config{Hidden: []int{8}}, 4, 3, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.InputDim() != 4 || m.OutputDim() != 3 {
		t.Fatalf("dims: in=%d out=%d", m.InputDim(), m.OutputDim())
	}

	rows := batch.LabelRows(desc)
	scores, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(scores) != len(rows) {
		t.Fatalf("score rows: got=%d want=%d", len(scores), len(rows))
	}
	for i, row := range scores {
		if len(row) != 3 {
			t.Fatalf("score width row %d: got=%d want=3", i, len(row))
		}
	}

	again, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !reflect.DeepEqual(scores, again) {
		t.Fatalf("inference forward not deterministic")
	}
}

func TestPairwiseInputWidth(t *testing.T) {
	batch, desc := pairBatch(t, 3, 2)
	m, err := New(desc, Config{Name: NamePairwise, Hidden: []int{6}}, 3, 2, 5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.InputDim() != 6 {
		t.Fatalf("InputDim: got=%d want=6", m.InputDim())
	}
	rows := batch.LabelRows(desc)
	scores, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(scores) != 4 {
		t.Fatalf("score rows: got=%d want=4", len(scores))
	}
}

func TestTrainingReducesScoreNorm(t *testing.T) {
	batch, desc := residueBatch(t, 4, 3, 2)
	m, err := New(desc, Config{Hidden: []int{8}, Activation: "tanh"}, 4, 3, 11)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	opt, err := nn.NewSGD(0.05, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}

	rows := batch.LabelRows(desc)
	norm := func() float64 {
		scores, err := m.Forward(batch, rows, false)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		total := 0.0
		for _, row := range scores {
			for _, v := range row {
				total += v * v
			}
		}
		return total
	}

	before := norm()
	for step := 0; step < 20; step++ {
		scores, err := m.Forward(batch, rows, true)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		rowGrads := make([][]float64, len(scores))
		scale := 1 / float64(len(scores))
		for i, row := range scores {
			grad := make([]float64, len(row))
			for j, v := range row {
				grad[j] = v * scale
			}
			rowGrads[i] = grad
		}
		grads, err := m.Backward(rowGrads)
		if err != nil {
			t.Fatalf("Backward: %v", err)
		}
		if err := m.Step(opt, grads); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	after := norm()
	if after >= before {
		t.Fatalf("score norm did not shrink: before=%v after=%v", before, after)
	}
}

func TestBackwardGuards(t *testing.T) {
	batch, desc := residueBatch(t, 4, 2)
	m, err := New(desc, Config{}, 4, 3, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Backward([][]float64{{0, 0, 0}}); err == nil {
		t.Fatalf("Backward without forward: want error")
	}

	rows := batch.LabelRows(desc)
	if _, err := m.Forward(batch, rows, true); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, err := m.Backward(nil); err == nil {
		t.Fatalf("Backward with mismatched rows: want error")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	batch, desc := residueBatch(t, 4, 3)
	m, err := New(desc, Config{Hidden: []int{8}, Activation: "tanh"}, 4, 3, 13)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rows := batch.LabelRows(desc)
	baseline, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	saved := m.Snapshot()

	opt, err := nn.NewAdam(0.01, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("NewAdam: %v", err)
	}
	scores, err := m.Forward(batch, rows, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	grads, err := m.Backward(scores)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if err := m.Step(opt, grads); err != nil {
		t.Fatalf("Step: %v", err)
	}
	moved, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if reflect.DeepEqual(baseline, moved) {
		t.Fatalf("step changed nothing")
	}

	if err := m.Restore(saved); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored, err := m.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !reflect.DeepEqual(baseline, restored) {
		t.Fatalf("restore did not recover weights")
	}
}

func TestStochasticVaries(t *testing.T) {
	batch, desc := residueBatch(t, 4, 3)
	m, err := New(desc, Config{Hidden: []int{32}, Dropout: 0.5}, 4, 3, 19)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rows := batch.LabelRows(desc)

	varied := false
	first, err := m.Stochastic(batch, rows)
	if err != nil {
		t.Fatalf("Stochastic: %v", err)
	}
	for draw := 0; draw < 5 && !varied; draw++ {
		next, err := m.Stochastic(batch, rows)
		if err != nil {
			t.Fatalf("Stochastic: %v", err)
		}
		if !reflect.DeepEqual(first, next) {
			varied = true
		}
	}
	if !varied {
		t.Fatalf("dropout draws never varied")
	}
}

func TestDecode(t *testing.T) {
	classDesc := protocol.MustDescribe(protocol.ResidueToClass)
	pred := Decode(classDesc, [][]float64{{0.1, 2.0, -1.0}, {3.0, 0.0, 0.0}})
	if !reflect.DeepEqual(pred.Classes, []int{1, 0}) {
		t.Fatalf("Classes: got=%v want=[1 0]", pred.Classes)
	}
	for i, probs := range pred.Probs {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("probs row %d sum: got=%v want=1", i, sum)
		}
	}

	valueDesc := protocol.MustDescribe(protocol.SequenceToValue)
	pred = Decode(valueDesc, [][]float64{{1.5}, {-2}})
	if !reflect.DeepEqual(pred.Values, []float64{1.5, -2}) {
		t.Fatalf("Values: got=%v want=[1.5 -2]", pred.Values)
	}
}

func TestFactoryBuildsIndependentModels(t *testing.T) {
	desc := protocol.MustDescribe(protocol.ResidueToClass)
	factory := Config{Hidden: []int{8}}.Factory(desc)

	first, err := factory(4, 3, 21)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	second, err := factory(4, 3, 21)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	batch, bdesc := residueBatch(t, 4, 2)
	rows := batch.LabelRows(bdesc)
	a, err := first.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := second.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed built different models")
	}

	scores, err := first.Forward(batch, rows, true)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	grads, err := first.Backward(scores)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	opt, err := nn.NewSGD(0.1, 0)
	if err != nil {
		t.Fatalf("NewSGD: %v", err)
	}
	if err := first.Step(opt, grads); err != nil {
		t.Fatalf("Step: %v", err)
	}

	after, err := second.Forward(batch, rows, false)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !reflect.DeepEqual(b, after) {
		t.Fatalf("training one model moved the other")
	}
}
