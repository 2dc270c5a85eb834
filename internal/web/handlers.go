package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/wire"
)

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	list := s.mgr.List()
	out := make([]containerSummary, 0, len(list))
	for _, c := range list {
		out = append(out, summarize(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.mgr.Create(req.ID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.saveState(r.Context(), c)
	writeJSON(w, http.StatusCreated, summarize(c))
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statsOf(c))
}

func (s *Server) handleDeleteContainer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.mgr.Get(id); !ok {
		writeError(w, http.StatusNotFound, "container not found: "+id)
		return
	}
	if err := s.mgr.Remove(id); err != nil {
		fail(w, err)
		return
	}
	if s.repo != nil {
		if err := s.repo.Delete(r.Context(), id); err != nil {
			s.log.Warn("container row delete failed", zap.String("container", id), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// lifecycle adapts a state transition method into a handler. The container's
// persisted row tracks the resulting state.
func (s *Server) lifecycle(fn func(*container.Container) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.lookup(w, r)
		if !ok {
			return
		}
		if err := fn(c); err != nil {
			fail(w, err)
			return
		}
		s.saveState(r.Context(), c)
		writeJSON(w, http.StatusOK, summarize(c))
	}
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req advanceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Ticks <= 0 {
		req.Ticks = 1
	}
	if err := c.AdvanceBy(req.Ticks); err != nil {
		fail(w, err)
		return
	}
	s.saveState(r.Context(), c)
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req playRequest
	if !decode(w, r, &req) {
		return
	}
	interval := time.Duration(req.IntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = s.interval
	}
	if err := c.Play(interval); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *Server) handleStopPlay(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.StopPlay()
	s.saveState(r.Context(), c)
	writeJSON(w, http.StatusOK, summarize(c))
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	matches := c.Matches()
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse{ID: m.ID, Name: m.Name, CreatedTick: m.CreatedTick})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req createMatchRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := c.CreateMatch(req.Name)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, matchResponse{ID: m.ID, Name: m.Name, CreatedTick: m.CreatedTick})
}

func (s *Server) handleDestroyMatch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	match, ok := matchID(w, r)
	if !ok {
		return
	}
	if err := c.DestroyMatch(match); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpawnEntity(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req spawnEntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := c.CreateEntityForMatch(req.Match)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityResponse{Entity: e})
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	players := c.Players()
	out := make([]playerResponse, 0, len(players))
	for _, p := range players {
		out = append(out, playerResponse{ID: p.ID, Name: p.Name, Match: p.Match})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req registerPlayerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "player name required")
		return
	}
	p, err := c.RegisterPlayer(req.Name, req.Match)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, playerResponse{ID: p.ID, Name: p.Name, Match: p.Match})
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req submitCommandRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "command name required")
		return
	}
	if err := c.Submit(req.Name, req.Payload); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	match, ok := matchID(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("player"); raw != "" {
		player, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad player id: "+raw)
			return
		}
		snap, err := c.PlayerSnapshot(match, player)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wire.FromSnapshot(snap))
		return
	}
	snap, err := c.Snapshot(match)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromSnapshot(snap))
}

func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request) {
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
	d, ok := c.LastDelta(match)
	if !ok {
		writeError(w, http.StatusNotFound, "no delta for the latest tick")
		return
	}
	writeJSON(w, http.StatusOK, wire.FromDelta(d))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history archive disabled")
		return
	}
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	match, err := strconv.ParseUint(q.Get("match"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "match query parameter required")
		return
	}
	from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
	to, _ := strconv.ParseUint(q.Get("to"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	rows, err := s.history.History(r.Context(), c.ID(), match, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]historyEntryResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyEntryResponse{
			ID:        row.ID,
			Match:     row.MatchID,
			Tick:      row.Tick,
			Module:    row.Module,
			Payload:   row.Payload,
			CreatedAt: row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// matchID parses the {match} path segment.
func matchID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("match")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad match id: "+raw)
		return 0, false
	}
	return id, true
}

// saveState upserts the container row when persistence is wired.
func (s *Server) saveState(ctx context.Context, c *container.Container) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, c.ID(), c.State().String(), c.CurrentTick()); err != nil {
		s.log.Warn("container row save failed", zap.String("container", c.ID()), zap.Error(err))
	}
}
