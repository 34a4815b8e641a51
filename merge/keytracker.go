package merge

import (
	"github.com/golang/groupcache/lru"
	"github.com/willf/bloom"
)

// KeyTracker is the adaptive membership index the streaming merger uses to
// resolve a target row's key to the source row that replaces it, without
// holding every key in an unbounded structure (§9,
// "adaptive tracker tiers"). Three tiers trade exactness for bounded memory
// as estimated cardinality grows past Options.ExactKeyTrackerCeiling (T1)
// and Options.LRUKeyTrackerCeiling (T2).
type KeyTracker interface {
	// Add records that key maps to rowIndex (the last-seen source row for
	// that key). It may silently evict an older mapping.
	Add(key Key128, rowIndex int)

	// Lookup reports whether key has been seen. found=true with
	// index=-1 means the tier can confirm probable membership but cannot
	// resolve which row it was (the bloom tier's known limitation); callers
	// must treat that case as "cannot establish last-write-wins" rather
	// than as a precise hit.
	Lookup(key Key128) (index int, found bool)

	// Tier names the active tier for observability (echoed on Result).
	Tier() string

	// Evictions counts entries the tracker discarded to stay within its
	// memory bound. Always 0 for the exact tier.
	Evictions() int64

	Len() int
}

// NewKeyTracker selects a tier from the estimated number of distinct keys
// the tracker will hold.
func NewKeyTracker(estimatedCardinality int, opts Options) KeyTracker {
	switch {
	case estimatedCardinality <= opts.ExactKeyTrackerCeiling:
		return newExactKeyTracker()
	case estimatedCardinality <= opts.LRUKeyTrackerCeiling:
		return newLRUKeyTracker(opts.ExactKeyTrackerCeiling)
	default:
		return newBloomKeyTracker(estimatedCardinality, opts)
	}
}

// exactKeyTracker is a plain Go map: exact and unbounded, used below T1.
type exactKeyTracker struct {
	m map[Key128]int
}

func newExactKeyTracker() *exactKeyTracker {
	return &exactKeyTracker{m: make(map[Key128]int)}
}

func (t *exactKeyTracker) Add(key Key128, rowIndex int) { t.m[key] = rowIndex }

func (t *exactKeyTracker) Lookup(key Key128) (int, bool) {
	v, ok := t.m[key]
	return v, ok
}

func (t *exactKeyTracker) Tier() string    { return "exact" }
func (t *exactKeyTracker) Evictions() int64 { return 0 }
func (t *exactKeyTracker) Len() int         { return len(t.m) }

// lruKeyTracker bounds memory with groupcache's LRU, accepting the spec's
// acknowledged soundness risk at this tier: an evicted key re-inserted
// later is indistinguishable from one never seen, so a duplicate across a
// very sparse source batch can be missed. Used between T1 and T2.
type lruKeyTracker struct {
	cache     *lru.Cache
	evictions int64
}

func newLRUKeyTracker(capacity int) *lruKeyTracker {
	t := &lruKeyTracker{}
	t.cache = &lru.Cache{
		MaxEntries: capacity,
		OnEvicted: func(key lru.Key, value interface{}) {
			t.evictions++
		},
	}
	return t
}

func (t *lruKeyTracker) Add(key Key128, rowIndex int) { t.cache.Add(key, rowIndex) }

func (t *lruKeyTracker) Lookup(key Key128) (int, bool) {
	v, ok := t.cache.Get(key)
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (t *lruKeyTracker) Tier() string     { return "lru" }
func (t *lruKeyTracker) Evictions() int64 { return t.evictions }
func (t *lruKeyTracker) Len() int         { return t.cache.Len() }

// bloomKeyTracker is the top tier for very large key sets: a probabilistic
// filter answers "definitely not seen" in O(1) and bounded memory, paired
// with a small bounded exact fallback so the common case (a recently added
// key) still resolves to a row index. A positive bloom test for a key that
// has aged out of the fallback is reported as found with index=-1: the
// caller cannot resolve it to a row and must treat it as an unresolvable
// hit rather than a confirmed duplicate. Precise O(1)-memory resolution at
// this tier would need a disk-spill index, which is out of scope (§9, "not
// in scope").
type bloomKeyTracker struct {
	filter   *bloom.BloomFilter
	fallback *lru.Cache
}

func newBloomKeyTracker(estimatedCardinality int, opts Options) *bloomKeyTracker {
	fpRate := opts.BloomFalsePositiveRate
	if fpRate <= 0 {
		fpRate = 0.01
	}
	return &bloomKeyTracker{
		filter:   bloom.NewWithEstimates(uint(estimatedCardinality), fpRate),
		fallback: &lru.Cache{MaxEntries: opts.LRUKeyTrackerCeiling / 10},
	}
}

func (t *bloomKeyTracker) Add(key Key128, rowIndex int) {
	t.filter.Add(key[:])
	t.fallback.Add(key, rowIndex)
}

func (t *bloomKeyTracker) Lookup(key Key128) (int, bool) {
	if !t.filter.Test(key[:]) {
		return 0, false
	}
	if v, ok := t.fallback.Get(key); ok {
		return v.(int), true
	}
	return -1, true
}

func (t *bloomKeyTracker) Tier() string     { return "bloom" }
func (t *bloomKeyTracker) Evictions() int64 { return 0 }
func (t *bloomKeyTracker) Len() int         { return t.fallback.Len() }
