package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/wire"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// wsSession is one streaming subscriber. The tick listener enqueues frames
// without blocking; a full queue flips needFull so the next frame is a
// snapshot instead of an unappliable delta chain.
type wsSession struct {
	conn     *websocket.Conn
	send     chan []byte
	quit     chan struct{}
	quitOnce sync.Once
	needFull atomic.Bool
}

func (s *wsSession) close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// offer enqueues a frame; on a full queue the frame is dropped and the
// session is marked for a full resync.
func (s *wsSession) offer(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		s.needFull.Store(true)
		return false
	}
}

// handleStream subscribes a WebSocket client to one match's feed. The first
// frame is a full snapshot; after that each committed tick sends a delta
// when the engine produced one, a fresh snapshot when it rebuilt, and
// nothing when the match did not change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	match, ok := matchID(w, r)
	if !ok {
		return
	}
	if _, exists := c.Match(match); !exists {
		writeError(w, http.StatusNotFound, "match not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &wsSession{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		quit: make(chan struct{}),
	}
	// The initial snapshot may predate ticks that land before the
	// subscription below; the first streamed frame resyncs in full.
	sess.needFull.Store(true)

	if frame, err := snapshotFrame(c, match); err == nil {
		sess.offer(frame)
	}

	subID := c.Subscribe(func(tick uint64) {
		s.streamTick(c, match, sess, tick)
	})

	go s.writePump(sess)
	s.readPump(sess)

	c.Unsubscribe(subID)
	sess.close()
	conn.Close()
}

// streamTick runs on the container's tick goroutine; it must not block.
func (s *Server) streamTick(c *container.Container, match uint64, sess *wsSession, tick uint64) {
	select {
	case <-sess.quit:
		return
	default:
	}

	if sess.needFull.Load() {
		frame, err := snapshotFrame(c, match)
		if err != nil {
			sess.close() // match gone, end the stream
			return
		}
		if sess.offer(frame) {
			sess.needFull.Store(false)
		}
		return
	}

	if d, ok := c.LastDelta(match); ok {
		frame, err := json.Marshal(wire.DeltaMessage(d))
		if err != nil {
			return
		}
		sess.offer(frame)
		return
	}

	snap, err := c.Snapshot(match)
	if err != nil {
		sess.close()
		return
	}
	if snap.Tick != tick {
		return // unchanged since the last publication
	}
	frame, err := json.Marshal(wire.SnapshotMessage(snap))
	if err != nil {
		return
	}
	sess.offer(frame)
}

func snapshotFrame(c *container.Container, match uint64) ([]byte, error) {
	snap, err := c.Snapshot(match)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire.SnapshotMessage(snap))
}

func (s *Server) writePump(sess *wsSession) {
	for {
		select {
		case frame := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sess.close()
				return
			}
		case <-sess.quit:
			sess.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump discards client frames until the connection drops; the feed is
// one way and commands arrive over the REST API.
func (s *Server) readPump(sess *wsSession) {
	sess.conn.SetReadLimit(1 << 16)
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			return
		}
	}
}
