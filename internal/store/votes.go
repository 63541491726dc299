package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crowdguard/veritas/internal/ledger"
)

// GetEvent fetches one event row. A missing event is (nil, nil).
func (s *Store) GetEvent(ctx context.Context, eventID string) (*ledger.Event, error) {
	var evt ledger.Event
	var found bool
	err := s.guard(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, severity, lat, lng, reporter_id, status, created_at
			FROM events
			WHERE id = $1`,
			eventID,
		)
		err := row.Scan(&evt.ID, &evt.Severity, &evt.Location.Lat, &evt.Location.Lng,
			&evt.ReporterID, &evt.Status, &evt.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	if !found {
		return nil, nil
	}
	return &evt, nil
}

// CreateEvent inserts a pending event row. Duplicate ids are left untouched;
// the reporting flow owns the event's fields.
func (s *Store) CreateEvent(ctx context.Context, evt ledger.Event) error {
	err := s.guard(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO events (id, severity, lat, lng, reporter_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			evt.ID, evt.Severity, evt.Location.Lat, evt.Location.Lng,
			evt.ReporterID, evt.Status, evt.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("create event %s: %w", evt.ID, err)
	}
	return nil
}

// UpdateEventStatus writes the verdict back onto the event row.
func (s *Store) UpdateEventStatus(ctx context.Context, eventID string, status ledger.EventStatus) error {
	err := s.guard(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE events SET status = $1 WHERE id = $2`,
			status, eventID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update event status %s: %w", eventID, err)
	}
	return nil
}

// GetVotesForEvent returns the full current vote set for the event.
func (s *Store) GetVotesForEvent(ctx context.Context, eventID string) ([]ledger.Vote, error) {
	var votes []ledger.Vote
	err := s.guard(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, event_id, voter_id, vote_type, trust_weight, distance_meters, cast_at
			FROM votes
			WHERE event_id = $1`,
			eventID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v ledger.Vote
			if err := rows.Scan(&v.ID, &v.EventID, &v.VoterID, &v.Type,
				&v.TrustWeightAtCast, &v.DistanceMeters, &v.CastAt); err != nil {
				return err
			}
			votes = append(votes, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get votes for event %s: %w", eventID, err)
	}
	return votes, nil
}

// UpsertVote writes the effective vote for (event_id, voter_id). The unique
// constraint makes concurrent casts by the same voter resolve to last write
// wins on type and weight.
func (s *Store) UpsertVote(ctx context.Context, v ledger.Vote) error {
	err := s.guard(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO votes (id, event_id, voter_id, vote_type, trust_weight, distance_meters, cast_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id, voter_id)
			DO UPDATE SET
				vote_type = EXCLUDED.vote_type,
				trust_weight = EXCLUDED.trust_weight,
				distance_meters = EXCLUDED.distance_meters,
				cast_at = EXCLUDED.cast_at`,
			v.ID, v.EventID, v.VoterID, v.Type, v.TrustWeightAtCast, v.DistanceMeters, v.CastAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert vote %s/%s: %w", v.EventID, v.VoterID, err)
	}
	return nil
}
