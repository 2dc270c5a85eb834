package container

import (
	"sync"
	"time"

	"github.com/matchforge/engine/internal/core/snapshot"
)

// Stats collects per-container tick benchmarks. Counters are cumulative;
// durations track the tick body including snapshot regeneration.
type Stats struct {
	mu sync.Mutex

	ticks            uint64
	lastTickDuration time.Duration
	maxTickDuration  time.Duration
	totalDuration    time.Duration

	commandsExecuted uint64
	commandsFailed   uint64
	lastBacklog      int
}

func (s *Stats) observeTick(tick uint64, d time.Duration, executed, failed, backlog int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	s.lastTickDuration = d
	s.totalDuration += d
	if d > s.maxTickDuration {
		s.maxTickDuration = d
	}
	s.commandsExecuted += uint64(executed)
	s.commandsFailed += uint64(failed)
	s.lastBacklog = backlog
}

// StatsView is a point-in-time copy of the container's benchmarks.
type StatsView struct {
	Tick             uint64
	State            string
	Playing          bool
	Interval         time.Duration
	Ticks            uint64
	LastTickDuration time.Duration
	AvgTickDuration  time.Duration
	MaxTickDuration  time.Duration
	CommandsExecuted uint64
	CommandsFailed   uint64
	CommandBacklog   int
	Entities         int
	Matches          int
	Players          int
	Snapshots        snapshot.Metrics
}

// Stats assembles the current view across the tick clock, queue, store, and
// snapshot engine.
func (c *Container) Stats() StatsView {
	c.stats.mu.Lock()
	v := StatsView{
		Ticks:            c.stats.ticks,
		LastTickDuration: c.stats.lastTickDuration,
		MaxTickDuration:  c.stats.maxTickDuration,
		CommandsExecuted: c.stats.commandsExecuted,
		CommandsFailed:   c.stats.commandsFailed,
	}
	if c.stats.ticks > 0 {
		v.AvgTickDuration = c.stats.totalDuration / time.Duration(c.stats.ticks)
	}
	c.stats.mu.Unlock()

	v.Tick = c.CurrentTick()
	v.State = c.State().String()
	v.Playing = c.IsPlaying()
	v.Interval = c.Interval()
	v.CommandBacklog = c.QueueLen()
	v.Entities = c.store.EntityCount()
	v.Snapshots = c.eng.Metrics()

	c.mu.Lock()
	v.Matches = len(c.matches)
	v.Players = len(c.players)
	c.mu.Unlock()
	return v
}
