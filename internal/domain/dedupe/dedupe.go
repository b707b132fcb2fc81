// Package dedupe drops repeated measurements from a weight list.
package dedupe

import (
	"strconv"
	"sync"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/metrics"
)

// Deduper records seen measurement keys.
type Deduper interface {
	// SeenAndRecord reports whether key was seen before and records it if not.
	SeenAndRecord(key string) bool

	Size() int
}

// inMemoryDeduper keeps keys in a map. In bounded mode the oldest key is
// evicted once maxSize keys are held.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // insertion order, bounded mode only
	maxSize int      // <= 0 means unbounded
}

// NewInMemoryDeduper creates an unbounded deduper unless WithMaxSize is given.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]struct{})
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}

	if d.maxSize > 0 {
		if len(d.order) >= d.maxSize {
			delete(d.seen, d.order[0])
			d.order = d.order[1:]
		}
		d.order = append(d.order, key)
	}
	d.seen[key] = struct{}{}

	return false
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Key identifies a measurement by its second and its source.
func Key(w *core.Weight) string {
	return strconv.FormatInt(w.Date.Unix(), 10) + "|" + w.Source
}

// Filter returns weights without the entries whose Key d has already seen,
// keeping the first occurrence.
func Filter(d Deduper, weights []*core.Weight) []*core.Weight {
	out := make([]*core.Weight, 0, len(weights))
	for _, w := range weights {
		if d.SeenAndRecord(Key(w)) {
			continue
		}
		out = append(out, w)
	}

	if n := len(weights) - len(out); n > 0 {
		metrics.RecordDuplicates(n)
	}

	return out
}
