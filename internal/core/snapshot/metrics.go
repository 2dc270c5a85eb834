package snapshot

import "time"

// Metrics counts generation work. Operational only; nothing reads these for
// correctness.
type Metrics struct {
	Generations  uint64
	CacheHits    uint64
	Incremental  uint64
	FullRebuilds uint64
	Failures     uint64

	LastDuration  time.Duration
	MaxDuration   time.Duration
	TotalDuration time.Duration
	Passes        uint64
}

// AvgDuration is the mean wall time of a regeneration pass.
func (m Metrics) AvgDuration() time.Duration {
	if m.Passes == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.Passes)
}

func (m *Metrics) observePass(d time.Duration) {
	m.Passes++
	m.LastDuration = d
	m.TotalDuration += d
	if d > m.MaxDuration {
		m.MaxDuration = d
	}
}
