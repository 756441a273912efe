package objcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/otley-systems/xlatecore/internal/tcc"
)

// sectionCacheSize bounds how many deserialized CodeObjectFileSections
// the service keeps warm in memory across fetches. Without a bound, a
// process that touches many regions over a long run would grow this
// lookup without limit even though most regions stop being referenced
// once their library is unloaded.
const sectionCacheSize = 4096

type sectionKey struct {
	base   uint64
	offset uint64
}

// sectionCache is an in-memory, size-bounded cache of sections already
// read back from disk, sitting in front of CodeRegionEntry.Section so
// repeated fetches for a hot guest IP don't redo the map lookup through
// every live region's own lock.
type sectionCache struct {
	lru *lru.Cache[sectionKey, *tcc.CodeObjectFileSection]
}

func newSectionCache() *sectionCache {
	c, _ := lru.New[sectionKey, *tcc.CodeObjectFileSection](sectionCacheSize)
	return &sectionCache{lru: c}
}

func (c *sectionCache) get(base, offset uint64) (*tcc.CodeObjectFileSection, bool) {
	return c.lru.Get(sectionKey{base, offset})
}

func (c *sectionCache) put(base, offset uint64, sec *tcc.CodeObjectFileSection) {
	c.lru.Add(sectionKey{base, offset}, sec)
}

func (c *sectionCache) invalidateRegion(base uint64) {
	for _, k := range c.lru.Keys() {
		if k.base == base {
			c.lru.Remove(k)
		}
	}
}
