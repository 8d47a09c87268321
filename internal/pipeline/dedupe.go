package pipeline

import (
	"hash/maphash"
	"sync"

	"github.com/wegman-software/mapfile-go/internal/feature"
)

// deduper remembers features already emitted. A way crossing block borders
// is stored in every block it touches, and tiles above the base zoom share
// blocks, so the same feature is decoded more than once.
type deduper struct {
	seed maphash.Seed
	mu   sync.Mutex
	seen map[uint64]struct{}
}

func newDeduper() *deduper {
	return &deduper{
		seed: maphash.MakeSeed(),
		seen: make(map[uint64]struct{}),
	}
}

// Seen records the feature and reports whether it was recorded before
func (d *deduper) Seen(kind feature.Kind, layer int8, tags string, geom []byte) bool {
	var h maphash.Hash
	h.SetSeed(d.seed)
	h.WriteByte(byte(kind))
	h.WriteByte(byte(layer))
	h.WriteString(tags)
	h.Write(geom)
	key := h.Sum64()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

// Len returns the number of distinct features
func (d *deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
