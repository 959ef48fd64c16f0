package daemon

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanwatch/internal/watcher"
)

// RecentChanges remembers the latest change per path, evicting the paths
// that changed longest ago.
type RecentChanges struct {
	cache *lru.Cache[string, RecentChange]
	now   func() time.Time
}

// NewRecentChanges creates a cache holding up to size paths.
func NewRecentChanges(size int) (*RecentChanges, error) {
	cache, err := lru.New[string, RecentChange](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create recent changes cache: %w", err)
	}
	return &RecentChanges{cache: cache, now: time.Now}, nil
}

// Record stores ev as the newest change of its path.
func (r *RecentChanges) Record(ev watcher.Event) {
	r.cache.Add(ev.Path, RecentChange{
		Path: ev.Path,
		Kind: ev.Kind.String(),
		Time: r.now().UTC(),
	})
}

// List returns up to limit changes, newest first.
func (r *RecentChanges) List(limit int) []RecentChange {
	keys := r.cache.Keys() // oldest first
	changes := make([]RecentChange, 0, min(limit, len(keys)))
	for i := len(keys) - 1; i >= 0 && len(changes) < limit; i-- {
		if c, ok := r.cache.Peek(keys[i]); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// Len returns the number of remembered paths.
func (r *RecentChanges) Len() int {
	return r.cache.Len()
}
