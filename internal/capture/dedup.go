package capture

import "sync"

// DedupFilter drops frames that are perceptually near-identical to the last
// stored frame. The baseline only advances when a frame is stored, so a long
// run of near-duplicates keeps being compared against the original.
type DedupFilter struct {
	mu        sync.Mutex
	threshold int
	baseline  uint64
	primed    bool
}

// NewDedupFilter creates a filter that discards frames within threshold bits
// of the baseline hash.
func NewDedupFilter(threshold int) *DedupFilter {
	return &DedupFilter{threshold: threshold}
}

// ShouldStore decides whether a frame with the given hash is novel enough to
// persist. When it returns true the hash becomes the new baseline.
func (f *DedupFilter) ShouldStore(hash uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.primed && HammingDistance(hash, f.baseline) <= f.threshold {
		return false
	}
	f.baseline = hash
	f.primed = true
	return true
}

// Reset clears the baseline so the next frame is always stored.
func (f *DedupFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primed = false
}
