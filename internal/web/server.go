// Package web exposes the container host over HTTP and WebSocket: lifecycle
// and clock control, matches and players, command submission, snapshot and
// delta reads, and a per-match streaming feed.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/core/module"
	"github.com/matchforge/engine/internal/persist"
)

// Options configure the API server. Containers and History are optional;
// without them the persistence endpoints report the feature as disabled and
// lifecycle changes stay in memory only.
type Options struct {
	Manager    *container.Manager
	Log        *zap.Logger
	Containers *persist.ContainerRepo
	History    *persist.SnapshotRepo

	// DefaultInterval is the auto-advance cadence used when a play request
	// names none. Zero falls back to 100ms.
	DefaultInterval time.Duration
}

type Server struct {
	mgr      *container.Manager
	log      *zap.Logger
	repo     *persist.ContainerRepo
	history  *persist.SnapshotRepo
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = 100 * time.Millisecond
	}
	return &Server{
		mgr:      opts.Manager,
		log:      opts.Log,
		repo:     opts.Containers,
		history:  opts.History,
		interval: opts.DefaultInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /api/containers", s.handleListContainers)
	mux.HandleFunc("POST /api/containers", s.handleCreateContainer)
	mux.HandleFunc("GET /api/containers/{id}", s.handleGetContainer)
	mux.HandleFunc("DELETE /api/containers/{id}", s.handleDeleteContainer)

	mux.HandleFunc("POST /api/containers/{id}/start", s.lifecycle((*container.Container).Start))
	mux.HandleFunc("POST /api/containers/{id}/pause", s.lifecycle((*container.Container).Pause))
	mux.HandleFunc("POST /api/containers/{id}/resume", s.lifecycle((*container.Container).Resume))
	mux.HandleFunc("POST /api/containers/{id}/stop", s.lifecycle((*container.Container).Stop))
	mux.HandleFunc("POST /api/containers/{id}/advance", s.handleAdvance)
	mux.HandleFunc("POST /api/containers/{id}/play", s.handlePlay)
	mux.HandleFunc("POST /api/containers/{id}/stop-play", s.handleStopPlay)

	mux.HandleFunc("GET /api/containers/{id}/matches", s.handleListMatches)
	mux.HandleFunc("POST /api/containers/{id}/matches", s.handleCreateMatch)
	mux.HandleFunc("DELETE /api/containers/{id}/matches/{match}", s.handleDestroyMatch)
	mux.HandleFunc("POST /api/containers/{id}/entities", s.handleSpawnEntity)

	mux.HandleFunc("GET /api/containers/{id}/players", s.handleListPlayers)
	mux.HandleFunc("POST /api/containers/{id}/players", s.handleRegisterPlayer)

	mux.HandleFunc("POST /api/containers/{id}/commands", s.handleSubmitCommand)

	mux.HandleFunc("GET /api/containers/{id}/matches/{match}/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/containers/{id}/matches/{match}/delta", s.handleDelta)
	mux.HandleFunc("GET /api/containers/{id}/history", s.handleHistory)

	mux.HandleFunc("GET /ws/containers/{id}/matches/{match}", s.handleStream)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// lookup resolves the {id} path segment to a container.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*container.Container, bool) {
	id := r.PathValue("id")
	c, ok := s.mgr.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "container not found: "+id)
		return nil, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps engine errors onto HTTP statuses.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, container.ErrUnknownMatch),
		errors.Is(err, container.ErrUnknownPlayer),
		errors.Is(err, container.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, container.ErrInvalidState),
		errors.Is(err, container.ErrStopped),
		errors.Is(err, container.ErrAlreadyPlaying),
		errors.Is(err, container.ErrNotPlaying):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, module.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	return true
}
