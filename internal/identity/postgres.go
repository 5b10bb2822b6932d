package identity

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolQuerier adapts a *pgxpool.Pool to the dbQuerier seam PostgresUUIDTable
// needs, backing the participant-uuid lookup table with a simple two-column
// table (identifier primary key, participant_uuid) rather than a separate
// de-identification service, per spec.md's Non-goal on concrete upstream
// clients.
type PoolQuerier struct {
	pool *pgxpool.Pool
}

// NewPoolQuerier wraps an already-connected pool.
func NewPoolQuerier(pool *pgxpool.Pool) *PoolQuerier {
	return &PoolQuerier{pool: pool}
}

func (q *PoolQuerier) QueryRowUUID(ctx context.Context, identifier string) (string, error) {
	var participantUUID string
	err := q.pool.QueryRow(ctx,
		`SELECT participant_uuid FROM participant_uuids WHERE identifier = $1`, identifier,
	).Scan(&participantUUID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return participantUUID, nil
}

func (q *PoolQuerier) InsertUUID(ctx context.Context, identifier, participantUUID string) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO participant_uuids (identifier, participant_uuid) VALUES ($1, $2)
		 ON CONFLICT (identifier) DO NOTHING`, identifier, participantUUID)
	return err
}
