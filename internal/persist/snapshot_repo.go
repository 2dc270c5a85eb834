package persist

import (
	"context"
	"fmt"
	"time"
)

// HistoryEntry is one module's worth of snapshot payload awaiting archive.
type HistoryEntry struct {
	ContainerID string
	MatchID     uint64
	Tick        uint64
	Module      string
	Payload     []byte // JSON document
}

// HistoryRow is a persisted entry read back from the archive.
type HistoryRow struct {
	ID          int64
	ContainerID string
	MatchID     uint64
	Tick        uint64
	Module      string
	Payload     []byte
	CreatedAt   time.Time
}

type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// InsertBatch atomically writes a batch of history entries in a single
// transaction. On failure nothing is written; the caller decides whether to
// retry or drop the batch.
func (r *SnapshotRepo) InsertBatch(ctx context.Context, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshot_history (container_id, match_id, tick, module, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.ContainerID, e.MatchID, e.Tick, e.Module, e.Payload,
		); err != nil {
			return fmt.Errorf("history insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// History reads archived entries for one match, newest first, bounded by
// limit. A zero toTick means no upper bound.
func (r *SnapshotRepo) History(ctx context.Context, containerID string, matchID, fromTick, toTick uint64, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	if toTick == 0 {
		toTick = ^uint64(0) >> 1 // stay inside BIGINT
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, container_id, match_id, tick, module, payload, created_at
		 FROM snapshot_history
		 WHERE container_id = $1 AND match_id = $2 AND tick >= $3 AND tick <= $4
		 ORDER BY tick DESC, module
		 LIMIT $5`,
		containerID, matchID, fromTick, toTick, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var row HistoryRow
		if err := rows.Scan(&row.ID, &row.ContainerID, &row.MatchID, &row.Tick,
			&row.Module, &row.Payload, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Prune deletes history older than the keep horizon for one container.
func (r *SnapshotRepo) Prune(ctx context.Context, containerID string, keepSince time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM snapshot_history WHERE container_id = $1 AND created_at < $2`,
		containerID, keepSince,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
