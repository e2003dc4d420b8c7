package dispatch

import (
	"sync"
	"sync/atomic"
)

// chunkTracker counts unfinished chunks and fires onDrained exactly once when the last one
// finishes, whatever the way it finished.
type chunkTracker struct {
	remaining atomic.Int64
	once      sync.Once
	onDrained func()
}

func newChunkTracker(chunks int, onDrained func()) *chunkTracker {
	t := &chunkTracker{onDrained: onDrained}
	t.remaining.Store(int64(chunks))
	return t
}

// done marks one chunk finished
func (t *chunkTracker) done() {
	if t.remaining.Add(-1) == 0 {
		t.once.Do(t.onDrained)
	}
}

func (t *chunkTracker) pending() int64 {
	return t.remaining.Load()
}
