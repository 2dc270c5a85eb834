package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ContainerRow mirrors one row of the containers table.
type ContainerRow struct {
	ID        string
	State     string
	Tick      uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ContainerRepo struct {
	db *DB
}

func NewContainerRepo(db *DB) *ContainerRepo {
	return &ContainerRepo{db: db}
}

// Save upserts the container's state and tick position.
func (r *ContainerRepo) Save(ctx context.Context, id, state string, tick uint64) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO containers (id, state, tick)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state, tick = EXCLUDED.tick, updated_at = NOW()`,
		id, state, tick,
	)
	return err
}

// Load returns one container row, or nil when the id is unknown.
func (r *ContainerRepo) Load(ctx context.Context, id string) (*ContainerRow, error) {
	row := &ContainerRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, state, tick, created_at, updated_at
		 FROM containers WHERE id = $1`, id,
	).Scan(&row.ID, &row.State, &row.Tick, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// List returns all persisted containers ordered by id.
func (r *ContainerRepo) List(ctx context.Context) ([]ContainerRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, state, tick, created_at, updated_at
		 FROM containers ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContainerRow
	for rows.Next() {
		var row ContainerRow
		if err := rows.Scan(&row.ID, &row.State, &row.Tick, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Delete removes a container row and its snapshot history.
func (r *ContainerRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM snapshot_history WHERE container_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
