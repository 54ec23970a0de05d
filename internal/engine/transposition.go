package engine

// ScoreCache maps a truncated position hash to the most recently computed
// score for that slot. Collisions silently overwrite: the cache orders moves
// and is never trusted for correctness.
type ScoreCache struct {
	scores []float64
	used   []uint64 // occupancy bitmap; 0.0 is a legitimate score
	size   uint64
	mask   uint64
}

// Cache size bounds, as log2 of the slot count.
const (
	MinCacheBits     = 10
	MaxCacheBits     = 28
	DefaultCacheBits = 22
)

// NewScoreCache creates a cache with 1<<bits slots.
func NewScoreCache(bits int) *ScoreCache {
	bits = max(MinCacheBits, min(bits, MaxCacheBits))
	size := uint64(1) << bits
	return &ScoreCache{
		scores: make([]float64, size),
		used:   make([]uint64, size/64),
		size:   size,
		mask:   size - 1,
	}
}

// CacheBitsForMB returns the largest slot count exponent whose two pass
// tables fit in sizeMB megabytes.
func CacheBitsForMB(sizeMB int) int {
	// 8 bytes per score plus one occupancy bit, two tables.
	slots := uint64(sizeMB) * 1024 * 1024 / 2 / 8
	slots = roundDownToPowerOf2(slots)
	bits := 0
	for slots > 1 {
		slots >>= 1
		bits++
	}
	return max(MinCacheBits, min(bits, MaxCacheBits))
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Probe returns the score stored in hash's slot, if any.
func (c *ScoreCache) Probe(hash uint64) (float64, bool) {
	idx := hash & c.mask
	if c.used[idx>>6]&(1<<(idx&63)) == 0 {
		return 0, false
	}
	return c.scores[idx], true
}

// Store writes score into hash's slot, replacing whatever was there.
func (c *ScoreCache) Store(hash uint64, score float64) {
	idx := hash & c.mask
	c.scores[idx] = score
	c.used[idx>>6] |= 1 << (idx & 63)
}

// Clear empties the cache.
func (c *ScoreCache) Clear() {
	clear(c.used)
}

// Fill returns the permille (parts per thousand) of the table that is used.
func (c *ScoreCache) Fill() int {
	// Sample first 1000 entries
	sampleSize := uint64(1000)
	if sampleSize > c.size {
		sampleSize = c.size
	}
	used := 0
	for i := uint64(0); i < sampleSize; i++ {
		if c.used[i>>6]&(1<<(i&63)) != 0 {
			used++
		}
	}
	return used * 1000 / int(sampleSize)
}

// Size returns the number of slots in the table.
func (c *ScoreCache) Size() uint64 {
	return c.size
}
