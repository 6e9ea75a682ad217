package dataset

import (
	"errors"
	"reflect"
	"testing"

	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

func residuePartition(t *testing.T, lengths ...int) *Partition {
	t.Helper()
	samples := make([]Sample, len(lengths))
	for i, length := range lengths {
		classes := make([]int, length)
		for j := range classes {
			classes[j] = j % 3
		}
		samples[i] = Sample{
			ID:             string(rune('a' + i)),
			Embedding:      rowEmbedding(length, 2, float64(i+1)),
			ResidueClasses: classes,
		}
	}
	part, err := NewPartition(protocol.ResidueToClass, samples)
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	return part
}

func collectIDs(t *testing.T, stream *BatchStream) []string {
	t.Helper()
	var ids []string
	for {
		batch, ok := stream.Next()
		if !ok {
			return ids
		}
		ids = append(ids, batch.IDs...)
	}
}

func TestNewAssemblerConfigErrors(t *testing.T) {
	part := residuePartition(t, 3, 5)
	for _, size := range []int{0, -1} {
		if _, err := NewAssembler(part, Options{BatchSize: size}); !errors.Is(err, model.ErrConfiguration) {
			t.Fatalf("batch size %d: got err=%v want ErrConfiguration", size, err)
		}
	}

	empty, err := NewPartition(protocol.ResidueToClass, nil)
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	if _, err := NewAssembler(empty, Options{BatchSize: 4}); !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("empty partition: got err=%v want ErrConfiguration", err)
	}
}

func TestNumBatches(t *testing.T) {
	part := residuePartition(t, 3, 5, 2, 4, 1)
	cases := []struct {
		size int
		want int
	}{
		{size: 1, want: 5},
		{size: 2, want: 3},
		{size: 5, want: 1},
		{size: 8, want: 1},
	}
	for _, tc := range cases {
		asm, err := NewAssembler(part, Options{BatchSize: tc.size})
		if err != nil {
			t.Fatalf("NewAssembler: %v", err)
		}
		if got := asm.NumBatches(); got != tc.want {
			t.Fatalf("NumBatches(size=%d): got=%d want=%d", tc.size, got, tc.want)
		}
	}
}

func TestPaddingAndMask(t *testing.T) {
	part := residuePartition(t, 3, 5)
	asm, err := NewAssembler(part, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	stream := asm.Batches(0)
	batch, ok := stream.Next()
	if !ok {
		t.Fatalf("Next: no batch")
	}
	if batch.Size() != 2 || batch.MaxLen() != 5 {
		t.Fatalf("shape: size=%d maxLen=%d", batch.Size(), batch.MaxLen())
	}

	for i := 0; i < 5; i++ {
		valid := i < 3
		if batch.Mask[0][i] != valid {
			t.Fatalf("mask[0][%d]: got=%v want=%v", i, batch.Mask[0][i], valid)
		}
		if !batch.Mask[1][i] {
			t.Fatalf("mask[1][%d]: got=false want=true", i)
		}
	}
	for i := 3; i < 5; i++ {
		for j, v := range batch.Embeddings[0][i] {
			if v != 0 {
				t.Fatalf("padded embedding[0][%d][%d]: got=%v want=0", i, j, v)
			}
		}
		if batch.ResidueClasses[0][i] != IgnoreLabel {
			t.Fatalf("padded class[0][%d]: got=%d want=%d", i, batch.ResidueClasses[0][i], IgnoreLabel)
		}
	}
	if batch.ResidueClasses[0][2] != 2 {
		t.Fatalf("valid class[0][2]: got=%d want=2", batch.ResidueClasses[0][2])
	}

	if _, ok := stream.Next(); ok {
		t.Fatalf("Next: unexpected extra batch")
	}
}

func TestSingleSampleBatchShape(t *testing.T) {
	part := residuePartition(t, 4)
	asm, err := NewAssembler(part, Options{BatchSize: 3})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, ok := asm.Batches(0).Next()
	if !ok {
		t.Fatalf("Next: no batch")
	}
	if batch.Size() != 1 || batch.MaxLen() != 4 {
		t.Fatalf("shape: size=%d maxLen=%d", batch.Size(), batch.MaxLen())
	}
	if len(batch.Embeddings) != 1 || len(batch.Embeddings[0]) != 4 || len(batch.Embeddings[0][0]) != 2 {
		t.Fatalf("embedding dims: %dx%dx%d", len(batch.Embeddings), len(batch.Embeddings[0]), len(batch.Embeddings[0][0]))
	}
}

func TestSampleMaskPropagates(t *testing.T) {
	sample := Sample{
		ID:             "a",
		Embedding:      rowEmbedding(3, 2, 1),
		ResidueClasses: []int{0, 1, 2},
		Mask:           []bool{true, false, true},
	}
	part, err := NewPartition(protocol.ResidueToClass, []Sample{sample})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(part, Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()
	want := []bool{true, false, true}
	if !reflect.DeepEqual(batch.Mask[0], want) {
		t.Fatalf("mask: got=%v want=%v", batch.Mask[0], want)
	}
}

func TestShuffleReproducible(t *testing.T) {
	part := residuePartition(t, 3, 5, 2, 4, 1, 6, 2, 3, 4, 5)
	opts := Options{BatchSize: 3, Shuffle: true, Seed: 17}
	asm, err := NewAssembler(part, opts)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	first := collectIDs(t, asm.Batches(2))
	second := collectIDs(t, asm.Batches(2))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same epoch differs: %v vs %v", first, second)
	}

	other := collectIDs(t, asm.Batches(3))
	if reflect.DeepEqual(first, other) {
		t.Fatalf("epochs 2 and 3 produced identical order: %v", first)
	}

	if len(first) != part.Len() {
		t.Fatalf("epoch covers %d samples, want %d", len(first), part.Len())
	}
	seen := make(map[string]bool, len(first))
	for _, id := range first {
		if seen[id] {
			t.Fatalf("duplicate id in epoch: %s", id)
		}
		seen[id] = true
	}
}

func TestStreamReset(t *testing.T) {
	part := residuePartition(t, 3, 5, 2, 4, 1)
	asm, err := NewAssembler(part, Options{BatchSize: 2, Shuffle: true, Seed: 9})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	stream := asm.Batches(1)
	first := collectIDs(t, stream)
	stream.Reset()
	second := collectIDs(t, stream)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reset replay differs: %v vs %v", first, second)
	}
}

func TestBucketByLength(t *testing.T) {
	part := residuePartition(t, 5, 1, 4, 2, 3, 6, 7)
	asm, err := NewAssembler(part, Options{BatchSize: 2, BucketByLength: true})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	stream := asm.Batches(0)
	var lengths []int
	for {
		batch, ok := stream.Next()
		if !ok {
			break
		}
		lengths = append(lengths, batch.Lengths...)
	}
	for i := 1; i < len(lengths); i++ {
		if lengths[i] < lengths[i-1] {
			t.Fatalf("lengths not ascending: %v", lengths)
		}
	}
}

func TestBucketShuffleKeepsShortBatchLast(t *testing.T) {
	part := residuePartition(t, 5, 1, 4, 2, 3, 6, 7)
	asm, err := NewAssembler(part, Options{BatchSize: 2, BucketByLength: true, Shuffle: true, Seed: 5})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	stream := asm.Batches(0)
	var batches []Batch
	for {
		batch, ok := stream.Next()
		if !ok {
			break
		}
		batches = append(batches, batch)
	}
	last := batches[len(batches)-1]
	if last.Size() != 1 || last.Lengths[0] != 7 {
		t.Fatalf("short batch: size=%d lengths=%v", last.Size(), last.Lengths)
	}
	wantBlocks := map[[2]int]bool{{1, 2}: true, {3, 4}: true, {5, 6}: true}
	for _, batch := range batches[:len(batches)-1] {
		key := [2]int{batch.Lengths[0], batch.Lengths[1]}
		if !wantBlocks[key] {
			t.Fatalf("unexpected length block: %v", batch.Lengths)
		}
		delete(wantBlocks, key)
	}
	if len(wantBlocks) != 0 {
		t.Fatalf("missing length blocks: %v", wantBlocks)
	}
}

func TestSequenceCollation(t *testing.T) {
	classes, err := NewPartition(protocol.SequenceToClass, []Sample{
		pooledSample("a", 1),
		pooledSample("b", 0),
	})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(classes, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()
	if batch.MaxLen() != 1 {
		t.Fatalf("MaxLen: got=%d want=1", batch.MaxLen())
	}
	if batch.Classes[0] != 1 || batch.Classes[1] != 0 {
		t.Fatalf("Classes: got=%v", batch.Classes)
	}

	values, err := NewPartition(protocol.SequenceToValue, []Sample{
		{ID: "a", Embedding: rowEmbedding(1, 4, 0.5), Value: 1.5},
		{ID: "b", Embedding: rowEmbedding(1, 4, 0.5), Value: -2},
	})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err = NewAssembler(values, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ = asm.Batches(0).Next()
	if batch.Values[0] != 1.5 || batch.Values[1] != -2 {
		t.Fatalf("Values: got=%v", batch.Values)
	}
}

func TestPairCollation(t *testing.T) {
	short := Sample{
		ID:        "a",
		Embedding: rowEmbedding(2, 2, 1),
		PairClasses: [][]int{
			{0, 1},
			{1, 0},
		},
	}
	long := Sample{
		ID:        "b",
		Embedding: rowEmbedding(3, 2, 2),
		PairClasses: [][]int{
			{0, 0, 1},
			{0, 0, 0},
			{1, 0, 0},
		},
	}
	part, err := NewPartition(protocol.ResiduePairToClass, []Sample{short, long})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(part, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()
	if batch.MaxLen() != 3 {
		t.Fatalf("MaxLen: got=%d want=3", batch.MaxLen())
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inside := i < 2 && j < 2
			if got := batch.PairMask[0][i][j]; got != inside {
				t.Fatalf("PairMask[0][%d][%d]: got=%v want=%v", i, j, got, inside)
			}
			if !inside && batch.PairClasses[0][i][j] != IgnoreLabel {
				t.Fatalf("PairClasses[0][%d][%d]: got=%d want=%d", i, j, batch.PairClasses[0][i][j], IgnoreLabel)
			}
			if !batch.PairMask[1][i][j] {
				t.Fatalf("PairMask[1][%d][%d]: got=false want=true", i, j)
			}
		}
	}
	if batch.PairClasses[0][1][0] != 1 {
		t.Fatalf("PairClasses[0][1][0]: got=%d want=1", batch.PairClasses[0][1][0])
	}
}

func TestLabelRows(t *testing.T) {
	sample := Sample{
		ID:             "a",
		Embedding:      rowEmbedding(4, 2, 1),
		ResidueClasses: []int{0, IgnoreLabel, 2, 1},
		Mask:           []bool{true, true, false, true},
	}
	part, err := NewPartition(protocol.ResidueToClass, []Sample{sample, residueSample("b", []int{1})})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(part, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()

	rows := batch.LabelRows(part.Descriptor())
	want := []LabelRow{
		{Sample: 0, I: 0, J: -1, Class: 0},
		{Sample: 0, I: 3, J: -1, Class: 1},
		{Sample: 1, I: 0, J: -1, Class: 1},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("LabelRows: got=%v want=%v", rows, want)
	}
}

func TestLabelRowsPairs(t *testing.T) {
	sample := Sample{
		ID:        "a",
		Embedding: rowEmbedding(2, 2, 1),
		PairClasses: [][]int{
			{0, IgnoreLabel},
			{1, 0},
		},
	}
	part, err := NewPartition(protocol.ResiduePairToClass, []Sample{sample})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(part, Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()

	rows := batch.LabelRows(part.Descriptor())
	want := []LabelRow{
		{Sample: 0, I: 0, J: 0, Class: 0},
		{Sample: 0, I: 1, J: 0, Class: 1},
		{Sample: 0, I: 1, J: 1, Class: 0},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("LabelRows: got=%v want=%v", rows, want)
	}
}

func TestInputRowsIgnoreLabels(t *testing.T) {
	sample := Sample{
		ID:             "a",
		Embedding:      rowEmbedding(3, 2, 1),
		ResidueClasses: []int{IgnoreLabel, IgnoreLabel, IgnoreLabel},
		Mask:           []bool{true, false, true},
	}
	part, err := NewPartition(protocol.ResidueToClass, []Sample{sample})
	if err != nil {
		t.Fatalf("NewPartition: %v", err)
	}
	asm, err := NewAssembler(part, Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	batch, _ := asm.Batches(0).Next()

	if rows := batch.LabelRows(part.Descriptor()); len(rows) != 0 {
		t.Fatalf("LabelRows on unlabeled batch: got=%d want=0", len(rows))
	}
	rows := batch.InputRows(part.Descriptor())
	want := []LabelRow{
		{Sample: 0, I: 0, J: -1},
		{Sample: 0, I: 2, J: -1},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("InputRows: got=%v want=%v", rows, want)
	}
}

func TestCollationCopiesData(t *testing.T) {
	part := residuePartition(t, 3, 5)
	asm, err := NewAssembler(part, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	batch, _ := asm.Batches(0).Next()
	batch.Embeddings[0][0][0] += 100
	batch.ResidueClasses[0][0] = 9

	fresh, _ := asm.Batches(0).Next()
	if fresh.Embeddings[0][0][0] == batch.Embeddings[0][0][0] {
		t.Fatalf("embedding mutation leaked into partition")
	}
	if fresh.ResidueClasses[0][0] == 9 {
		t.Fatalf("class mutation leaked into partition")
	}
}
