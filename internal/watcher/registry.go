package watcher

import (
	"slices"
	"sync"
)

// registry owns every live watch point, indexed by normalized path and by
// completion key. The maps are engine-private; the watched set is a
// mutex-guarded copy of the key set that other goroutines may query.
type registry struct {
	byPath  map[string]*watchPoint
	byKey   map[uint64]*watchPoint
	nextKey uint64

	mu      sync.RWMutex
	watched map[string]struct{}
}

func newRegistry() *registry {
	return &registry{
		byPath:  make(map[string]*watchPoint),
		byKey:   make(map[uint64]*watchPoint),
		nextKey: wakeKey + 1,
		watched: make(map[string]struct{}),
	}
}

// allocKey returns a fresh completion key.
func (r *registry) allocKey() uint64 {
	key := r.nextKey
	r.nextKey++
	return key
}

func (r *registry) add(w *watchPoint) {
	r.byPath[w.path] = w
	r.byKey[w.key] = w

	r.mu.Lock()
	r.watched[w.path] = struct{}{}
	r.mu.Unlock()
}

func (r *registry) remove(w *watchPoint) {
	if cur, ok := r.byPath[w.path]; ok && cur == w {
		delete(r.byPath, w.path)
	}
	delete(r.byKey, w.key)

	r.mu.Lock()
	delete(r.watched, w.path)
	r.mu.Unlock()
}

func (r *registry) lookupPath(path string) (*watchPoint, bool) {
	w, ok := r.byPath[path]
	return w, ok
}

func (r *registry) lookupKey(key uint64) (*watchPoint, bool) {
	w, ok := r.byKey[key]
	return w, ok
}

func (r *registry) len() int {
	return len(r.byKey)
}

func (r *registry) all() []*watchPoint {
	points := make([]*watchPoint, 0, len(r.byKey))
	for _, w := range r.byKey {
		points = append(points, w)
	}
	return points
}

// contains may be called from any goroutine.
func (r *registry) contains(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.watched[path]
	return ok
}

// snapshot returns the watched normalized paths, sorted. Safe from any goroutine.
func (r *registry) snapshot() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.watched))
	for p := range r.watched {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	slices.Sort(paths)
	return paths
}
