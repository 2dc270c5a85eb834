package web

import (
	"encoding/json"
	"time"

	"github.com/matchforge/engine/internal/container"
	"github.com/matchforge/engine/internal/core/module"
)

type createContainerRequest struct {
	ID string `json:"id"`
}

type containerSummary struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Tick     uint64 `json:"tick"`
	Playing  bool   `json:"playing"`
	Entities int    `json:"entities"`
	Matches  int    `json:"matches"`
}

func summarize(c *container.Container) containerSummary {
	v := c.Stats()
	return containerSummary{
		ID:       c.ID(),
		State:    v.State,
		Tick:     v.Tick,
		Playing:  v.Playing,
		Entities: v.Entities,
		Matches:  v.Matches,
	}
}

type statsResponse struct {
	ID               string        `json:"id"`
	State            string        `json:"state"`
	Tick             uint64        `json:"tick"`
	Playing          bool          `json:"playing"`
	IntervalMillis   int64         `json:"intervalMillis"`
	Ticks            uint64        `json:"ticks"`
	LastTickMicros   int64         `json:"lastTickMicros"`
	AvgTickMicros    int64         `json:"avgTickMicros"`
	MaxTickMicros    int64         `json:"maxTickMicros"`
	CommandsExecuted uint64        `json:"commandsExecuted"`
	CommandsFailed   uint64        `json:"commandsFailed"`
	CommandBacklog   int           `json:"commandBacklog"`
	Entities         int           `json:"entities"`
	Matches          int           `json:"matches"`
	Players          int           `json:"players"`
	Snapshots        snapshotStats `json:"snapshots"`
}

type snapshotStats struct {
	Generations  uint64 `json:"generations"`
	CacheHits    uint64 `json:"cacheHits"`
	Incremental  uint64 `json:"incremental"`
	FullRebuilds uint64 `json:"fullRebuilds"`
	Failures     uint64 `json:"failures"`
	LastMicros   int64  `json:"lastMicros"`
	MaxMicros    int64  `json:"maxMicros"`
}

func statsOf(c *container.Container) statsResponse {
	v := c.Stats()
	return statsResponse{
		ID:               c.ID(),
		State:            v.State,
		Tick:             v.Tick,
		Playing:          v.Playing,
		IntervalMillis:   v.Interval.Milliseconds(),
		Ticks:            v.Ticks,
		LastTickMicros:   v.LastTickDuration.Microseconds(),
		AvgTickMicros:    v.AvgTickDuration.Microseconds(),
		MaxTickMicros:    v.MaxTickDuration.Microseconds(),
		CommandsExecuted: v.CommandsExecuted,
		CommandsFailed:   v.CommandsFailed,
		CommandBacklog:   v.CommandBacklog,
		Entities:         v.Entities,
		Matches:          v.Matches,
		Players:          v.Players,
		Snapshots: snapshotStats{
			Generations:  v.Snapshots.Generations,
			CacheHits:    v.Snapshots.CacheHits,
			Incremental:  v.Snapshots.Incremental,
			FullRebuilds: v.Snapshots.FullRebuilds,
			Failures:     v.Snapshots.Failures,
			LastMicros:   v.Snapshots.LastDuration.Microseconds(),
			MaxMicros:    v.Snapshots.MaxDuration.Microseconds(),
		},
	}
}

type createMatchRequest struct {
	Name string `json:"name"`
}

type matchResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	CreatedTick uint64 `json:"createdTick"`
}

type registerPlayerRequest struct {
	Name  string `json:"name"`
	Match uint64 `json:"match"`
}

type playerResponse struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Match uint64 `json:"match"`
}

type submitCommandRequest struct {
	Name    string         `json:"name"`
	Payload module.Payload `json:"payload"`
}

type advanceRequest struct {
	Ticks int `json:"ticks"`
}

type playRequest struct {
	IntervalMillis int64 `json:"intervalMillis"`
}

type spawnEntityRequest struct {
	Match uint64 `json:"match"`
}

type entityResponse struct {
	Entity uint64 `json:"entity"`
}

type historyEntryResponse struct {
	ID        int64           `json:"id"`
	Match     uint64          `json:"match"`
	Tick      uint64          `json:"tick"`
	Module    string          `json:"module"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}
