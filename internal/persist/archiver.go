package persist

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/config"
	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/wire"
)

// HistoryWriter is the slice of SnapshotRepo the archiver needs.
type HistoryWriter interface {
	InsertBatch(ctx context.Context, entries []HistoryEntry) error
}

// Archiver turns published snapshots into history rows. Container tick
// listeners enqueue entries without blocking the tick; a background
// goroutine batches them and flushes on size or interval. When the queue is
// full entries are dropped and counted rather than stalling a container.
type Archiver struct {
	repo HistoryWriter
	log  *zap.Logger
	cfg  config.ArchiveConfig

	ch      chan HistoryEntry
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
	flushed atomic.Uint64
}

func NewArchiver(repo HistoryWriter, cfg config.ArchiveConfig, log *zap.Logger) *Archiver {
	if cfg.EveryTicks == 0 {
		cfg.EveryTicks = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Archiver{
		repo: repo,
		log:  log,
		cfg:  cfg,
		ch:   make(chan HistoryEntry, cfg.BatchSize*4),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

// Watch subscribes the archiver to a container's ticks. The returned id can
// be passed to the container's Unsubscribe.
func (a *Archiver) Watch(c *container.Container) int {
	id := c.ID()
	return c.Subscribe(func(tick uint64) {
		if tick%a.cfg.EveryTicks != 0 {
			return
		}
		a.archiveTick(c, id, tick)
	})
}

func (a *Archiver) archiveTick(c *container.Container, id string, tick uint64) {
	for _, m := range c.Matches() {
		snap, err := c.Snapshot(m.ID)
		if err != nil {
			continue
		}
		for _, md := range wire.FromSnapshot(snap).Modules {
			payload, err := json.Marshal(md)
			if err != nil {
				a.log.Warn("archive marshal failed",
					zap.String("container", id),
					zap.Uint64("match", m.ID),
					zap.Error(err))
				continue
			}
			a.offer(HistoryEntry{
				ContainerID: id,
				MatchID:     m.ID,
				Tick:        snap.Tick,
				Module:      md.Module,
				Payload:     payload,
			})
		}
	}
}

// offer enqueues without blocking; a full queue drops the entry.
func (a *Archiver) offer(e HistoryEntry) {
	select {
	case a.ch <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns how many entries were lost to a full queue.
func (a *Archiver) Dropped() uint64 { return a.dropped.Load() }

// Flushed returns how many entries reached the repository.
func (a *Archiver) Flushed() uint64 { return a.flushed.Load() }

// Close flushes the remaining backlog and stops the background goroutine.
// Call after the watched containers have stopped ticking.
func (a *Archiver) Close() {
	close(a.stop)
	<-a.done
}

func (a *Archiver) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]HistoryEntry, 0, a.cfg.BatchSize)
	for {
		select {
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= a.cfg.BatchSize {
				batch = a.flush(batch)
			}
		case <-ticker.C:
			batch = a.flush(batch)
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
					continue
				default:
				}
				break
			}
			a.flush(batch)
			return
		}
	}
}

// flush writes one batch and returns the reusable empty slice. A failed
// batch is dropped and counted; the tick path never waits on the database.
func (a *Archiver) flush(batch []HistoryEntry) []HistoryEntry {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.repo.InsertBatch(ctx, batch); err != nil {
		a.log.Warn("history flush failed",
			zap.Int("entries", len(batch)),
			zap.Error(err))
		a.dropped.Add(uint64(len(batch)))
	} else {
		a.flushed.Add(uint64(len(batch)))
	}
	return batch[:0]
}
