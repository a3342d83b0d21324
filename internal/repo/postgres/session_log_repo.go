package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chuveirolab/shower-bookings/internal/domain"
)

// SessionLogRepository records shower usage history. The live occupancy
// slot stays in memory; this is an append-only audit trail.
type SessionLogRepository interface {
	Open(ctx context.Context, userID int64, username string, durationMinutes int, startAt time.Time) (int64, error)
	Close(ctx context.Context, id int64, endedAt time.Time, expired bool) error
	ListRecent(ctx context.Context, limit int) ([]domain.Session, error)
}

type sessionLogRepository struct {
	pool *pgxpool.Pool
}

func NewSessionLogRepository(pool *pgxpool.Pool) SessionLogRepository {
	return &sessionLogRepository{pool: pool}
}

func (r *sessionLogRepository) Open(ctx context.Context, userID int64, username string, durationMinutes int, startAt time.Time) (int64, error) {
	const q = `
		INSERT INTO shower_sessions (user_id, username, duration_minutes, start_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id int64
	err := r.pool.QueryRow(ctx, q, userID, username, durationMinutes, startAt).Scan(&id)
	return id, err
}

func (r *sessionLogRepository) Close(ctx context.Context, id int64, endedAt time.Time, expired bool) error {
	const q = `
		UPDATE shower_sessions
		SET ended_at = $2, expired = $3
		WHERE id = $1 AND ended_at IS NULL`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, id, endedAt, expired)
	return err
}

func (r *sessionLogRepository) ListRecent(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const q = `
		SELECT id, user_id, username, duration_minutes, start_at, ended_at, expired
		FROM shower_sessions
		ORDER BY start_at DESC
		LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Username, &s.Duration, &s.StartAt, &s.EndedAt, &s.Expired); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
