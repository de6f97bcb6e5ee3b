package webhook

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupSize bounds the number of recently seen ids.
const DefaultDedupSize = 4096

// Deduper remembers recently processed notification ids so platform
// retries are not re-broadcast.
type Deduper struct {
	cache *lru.Cache[string, struct{}]
}

func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = DefaultDedupSize
	}
	cache, _ := lru.New[string, struct{}](size)
	return &Deduper{cache: cache}
}

// SeenBefore records id and reports whether it was already present.
func (d *Deduper) SeenBefore(id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

func (d *Deduper) Len() int {
	return d.cache.Len()
}
