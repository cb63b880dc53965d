package registry

import (
	"sort"
	"sync"
	"time"
)

// ModelVariant describes one deployable model. Variants with a BaseModelId
// are smaller fallbacks of that base model; the degradation planner walks
// them in quality order.
type ModelVariant struct {
	Id          string
	BaseModelId string

	// MemoryFraction is the fraction of total GPU memory the variant needs
	// resident to execute.
	MemoryFraction float64

	// ProjectedQuality estimates output quality relative to the base model,
	// in [0, 1].
	ProjectedQuality float64
}

type entry struct {
	variant      ModelVariant
	lastAccessed time.Time
	accessCount  int
}

// VariantRegistry is a bounded store of model variants keyed by id. When the
// registry grows past maxSize, entries that are both idle past maxIdle and
// below the access-count threshold are evicted first, then the least
// recently accessed entry.
type VariantRegistry struct {
	lock      sync.Mutex
	entries   map[string]*entry
	maxSize   int
	maxIdle   time.Duration
	minAccess int
}

func NewVariantRegistry(maxSize int, maxIdle time.Duration, minAccess int) *VariantRegistry {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &VariantRegistry{
		entries:   make(map[string]*entry, maxSize),
		maxSize:   maxSize,
		maxIdle:   maxIdle,
		minAccess: minAccess,
	}
}

func (r *VariantRegistry) Put(variant ModelVariant) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.entries[variant.Id]; ok {
		existing.variant = variant
		existing.lastAccessed = time.Now()
		return
	}

	if len(r.entries) >= r.maxSize {
		r.evictLocked()
	}

	r.entries[variant.Id] = &entry{variant: variant, lastAccessed: time.Now()}
}

func (r *VariantRegistry) Get(id string) (ModelVariant, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ModelVariant{}, false
	}

	e.lastAccessed = time.Now()
	e.accessCount++
	return e.variant, true
}

// Fallbacks returns the variants registered against the given base model,
// highest projected quality first.
func (r *VariantRegistry) Fallbacks(baseModelId string) []ModelVariant {
	r.lock.Lock()
	defer r.lock.Unlock()

	var fallbacks []ModelVariant
	for _, e := range r.entries {
		if e.variant.BaseModelId == baseModelId {
			e.lastAccessed = time.Now()
			e.accessCount++
			fallbacks = append(fallbacks, e.variant)
		}
	}

	sort.Slice(fallbacks, func(i, j int) bool {
		return fallbacks[i].ProjectedQuality > fallbacks[j].ProjectedQuality
	})

	return fallbacks
}

func (r *VariantRegistry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.entries)
}

func (r *VariantRegistry) evictLocked() {
	// First pass: anything idle past maxIdle with few accesses.
	for id, e := range r.entries {
		if time.Since(e.lastAccessed) > r.maxIdle && e.accessCount < r.minAccess {
			delete(r.entries, id)
			return
		}
	}

	// Fall back to evicting the least recently accessed entry.
	oldestId := ""
	var oldestTime time.Time
	for id, e := range r.entries {
		if oldestId == "" || e.lastAccessed.Before(oldestTime) {
			oldestId = id
			oldestTime = e.lastAccessed
		}
	}
	if oldestId != "" {
		delete(r.entries, oldestId)
	}
}
