// Package crossval turns one sample pool into folds and runs them to
// completion, in sequence or on a bounded worker pool. Fold failures
// stay inside their fold.
package crossval

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/heispv/biotrainer/internal/dataset"
	"github.com/heispv/biotrainer/internal/model"
	"github.com/heispv/biotrainer/internal/protocol"
)

type Method string

const (
	MethodHoldOut Method = "hold_out"
	MethodKFold   Method = "k_fold"
)

const defaultValFraction = 0.2

// FoldIndices selects one fold's train and validation samples out of
// the pool.
type FoldIndices struct {
	Train []int
	Val   []int
}

// Splitter derives fold index sets from a pool. The same seed always
// yields the same folds.
type Splitter struct {
	method      Method
	k           int
	stratified  bool
	valFraction float64
	seed        int64
}

func NewSplitter(method Method, k int, stratified bool, valFraction float64, seed int64) (*Splitter, error) {
	if valFraction == 0 {
		valFraction = defaultValFraction
	}
	switch method {
	case MethodHoldOut:
		if valFraction <= 0 || valFraction >= 1 {
			return nil, fmt.Errorf("%w: validation fraction must be in (0, 1), got %g", model.ErrConfiguration, valFraction)
		}
	case MethodKFold:
		if k < 2 {
			return nil, fmt.Errorf("%w: k-fold needs k >= 2, got %d", model.ErrConfiguration, k)
		}
	default:
		return nil, fmt.Errorf("%w: unknown split method: %s", model.ErrConfiguration, method)
	}
	return &Splitter{method: method, k: k, stratified: stratified, valFraction: valFraction, seed: seed}, nil
}

// Folds partitions the pool's indices: one fold for hold-out, k
// disjoint validation buckets for k-fold. Stratified splitting keeps
// per-class proportions and needs a sequence classification pool.
func (s *Splitter) Folds(pool *dataset.Partition) ([]FoldIndices, error) {
	n := pool.Len()
	if n < 2 {
		return nil, fmt.Errorf("%w: pool of %d samples cannot be split", model.ErrData, n)
	}
	if s.stratified && pool.Protocol() != protocol.SequenceToClass {
		return nil, fmt.Errorf("%w: stratified splitting needs %s, got %s", model.ErrConfiguration, protocol.SequenceToClass, pool.Protocol())
	}

	if s.method == MethodHoldOut {
		return s.holdOut(pool)
	}
	return s.kFold(pool)
}

func (s *Splitter) holdOut(pool *dataset.Partition) ([]FoldIndices, error) {
	n := pool.Len()
	valSize := int(float64(n) * s.valFraction)
	if valSize < 1 {
		valSize = 1
	}
	if valSize >= n {
		return nil, fmt.Errorf("%w: validation fraction %g leaves no training samples", model.ErrData, s.valFraction)
	}

	order := s.shuffled(pool)
	fold := FoldIndices{
		Val:   append([]int(nil), order[:valSize]...),
		Train: append([]int(nil), order[valSize:]...),
	}
	sort.Ints(fold.Val)
	sort.Ints(fold.Train)
	return []FoldIndices{fold}, nil
}

func (s *Splitter) kFold(pool *dataset.Partition) ([]FoldIndices, error) {
	n := pool.Len()
	if n < s.k {
		return nil, fmt.Errorf("%w: %d samples cannot fill %d folds", model.ErrData, n, s.k)
	}

	buckets := make([][]int, s.k)
	if s.stratified {
		for _, indices := range s.byClass(pool) {
			for i, idx := range indices {
				b := i % s.k
				buckets[b] = append(buckets[b], idx)
			}
		}
	} else {
		for i, idx := range s.shuffled(pool) {
			buckets[i%s.k] = append(buckets[i%s.k], idx)
		}
	}
	for b, bucket := range buckets {
		if len(bucket) == 0 {
			return nil, fmt.Errorf("%w: fold %d received no validation samples", model.ErrData, b)
		}
		sort.Ints(bucket)
	}

	folds := make([]FoldIndices, s.k)
	for f := 0; f < s.k; f++ {
		var train []int
		for b, bucket := range buckets {
			if b != f {
				train = append(train, bucket...)
			}
		}
		sort.Ints(train)
		folds[f] = FoldIndices{Train: train, Val: buckets[f]}
	}
	return folds, nil
}

func (s *Splitter) shuffled(pool *dataset.Partition) []int {
	order := make([]int, pool.Len())
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(s.seed))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// byClass groups shuffled pool indices by class id, classes ascending.
func (s *Splitter) byClass(pool *dataset.Partition) [][]int {
	groups := make(map[int][]int)
	for _, idx := range s.shuffled(pool) {
		class := pool.At(idx).Class
		groups[class] = append(groups[class], idx)
	}
	classes := make([]int, 0, len(groups))
	for class := range groups {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	result := make([][]int, 0, len(classes))
	for _, class := range classes {
		result = append(result, groups[class])
	}
	return result
}
