// Package run carries the per-run fixtures shared across the engine:
// run identity, the seed plan, the compute device and the progress
// event sink.
package run

import (
	"fmt"
	"io"
	"sync"

	"github.com/heispv/biotrainer/internal/model"
)

// Context threads run-wide state through training. Components derive
// their randomness from it and report progress to its sink; a nil sink
// discards events. Eventf serializes writes, so folds running in
// parallel share one Context safely.
type Context struct {
	RunID  string
	Seed   int64
	Device Device

	mu   sync.Mutex
	sink io.Writer
}

func NewContext(runID string, seed int64, sink io.Writer) *Context {
	if sink == nil {
		sink = io.Discard
	}
	return &Context{RunID: runID, Seed: seed, Device: DetectDevice(), sink: sink}
}

// FoldSeed derives the seed for one fold. Folds get distinct streams
// while the whole run stays reproducible from Seed.
func (c *Context) FoldSeed(fold int) int64 {
	return c.Seed + int64(fold)*104729
}

// Eventf writes one formatted key=value progress line to the sink.
func (c *Context) Eventf(format string, args ...any) {
	if c == nil || c.sink == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.sink, format+"\n", args...)
}

// Warn mirrors a warning record onto the event sink.
func (c *Context) Warn(w model.Warning) {
	c.Eventf("warning kind=%s fold=%d epoch=%d batch=%d msg=%q", w.Kind, w.Fold, w.Epoch, w.Batch, w.Message)
}
