package container

import (
	"sync"

	"github.com/matchforge/engine/internal/core/module"
)

type queuedCommand struct {
	name    string
	cmd     module.Command
	payload module.Payload
}

// commandQueue is the unbounded FIFO between submitters and the tick
// goroutine. The per-tick ceiling lives in the drain call, so excess commands
// wait for the next tick instead of being dropped.
type commandQueue struct {
	mu    sync.Mutex
	items []queuedCommand
}

func newCommandQueue() *commandQueue {
	return &commandQueue{}
}

func (q *commandQueue) push(c queuedCommand) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// drain removes and returns up to max commands in submission order.
func (q *commandQueue) drain(max int) []queuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]queuedCommand, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return out
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
