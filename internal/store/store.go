// Package store persists votes, events, and trust scores in Postgres.
//
// Expected schema:
//
//	events       (id text primary key, severity int, lat double precision,
//	              lng double precision, reporter_id text, status text,
//	              created_at timestamptz)
//	votes        (id uuid, event_id text, voter_id text, vote_type text,
//	              trust_weight double precision, distance_meters double precision,
//	              cast_at timestamptz, unique (event_id, voter_id))
//	trust_scores (user_id text primary key, score double precision,
//	              previous_score double precision, last_updated timestamptz,
//	              factors jsonb, history jsonb)
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
)

// queryTimeout caps every store call so a failing database surfaces a
// retryable error instead of holding the per-event lock.
const queryTimeout = 3 * time.Second

type Store struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Store{pool: pool, breaker: breaker}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// guard runs fn through the circuit breaker with the query timeout applied.
func (s *Store) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("store call: %w", err)
	}
	return nil
}
