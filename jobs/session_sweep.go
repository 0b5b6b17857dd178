package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SweepStore expires idle sessions in the shared store.
type SweepStore interface {
	ExpireIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweepJob expires sessions whose last activity predates the idle
// cutoff. The session core treats expiry as terminal, so the sweep only
// ever sets the flag.
type SessionSweepJob struct {
	Store   SweepStore
	MaxIdle time.Duration
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(store SweepStore, maxIdle time.Duration, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{
		Store:   store,
		MaxIdle: maxIdle,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes session sweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("session sweep: handler not configured")
	}
	cutoff := j.clock().Add(-j.MaxIdle)
	count, err := j.Store.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		if j.Logger != nil {
			j.Logger.Error("session sweep", slog.Any("error", err))
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("session sweep",
			slog.Int64("expired", count),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// PGSweepStore implements SweepStore on PostgreSQL.
type PGSweepStore struct {
	pool *pgxpool.Pool
}

// NewPGSweepStore constructs the store.
func NewPGSweepStore(pool *pgxpool.Pool) *PGSweepStore {
	return &PGSweepStore{pool: pool}
}

// ExpireIdleSessions expires sessions idle since before the cutoff, and
// subsessions whose master is already expired.
func (s *PGSweepStore) ExpireIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET expired=TRUE, exclusive=NULL
WHERE expired=FALSE
  AND (update_time < $1
   OR master IN (SELECT id FROM sessions WHERE expired=TRUE))`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
