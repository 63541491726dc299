package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crowdguard/veritas/internal/trust"
)

// GetTrustScore fetches a user's trust row. A missing user is (nil, nil);
// the trust store creates defaults on first access.
func (s *Store) GetTrustScore(ctx context.Context, userID string) (*trust.Score, error) {
	var sc trust.Score
	var factorsRaw, historyRaw []byte
	var found bool
	err := s.guard(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT user_id, score, previous_score, last_updated, factors, history
			FROM trust_scores
			WHERE user_id = $1`,
			userID,
		)
		err := row.Scan(&sc.UserID, &sc.Score, &sc.PreviousScore, &sc.LastUpdated, &factorsRaw, &historyRaw)
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
		return nil, fmt.Errorf("get trust score %s: %w", userID, err)
	}
	if !found {
		return nil, nil
	}
	if err := json.Unmarshal(factorsRaw, &sc.Factors); err != nil {
		return nil, fmt.Errorf("decode factors for %s: %w", userID, err)
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &sc.History); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", userID, err)
		}
	}
	return &sc, nil
}

// PutTrustScore upserts the trust row keyed by user_id.
func (s *Store) PutTrustScore(ctx context.Context, sc *trust.Score) error {
	factorsRaw, err := json.Marshal(sc.Factors)
	if err != nil {
		return fmt.Errorf("encode factors for %s: %w", sc.UserID, err)
	}
	historyRaw, err := json.Marshal(sc.History)
	if err != nil {
		return fmt.Errorf("encode history for %s: %w", sc.UserID, err)
	}

	err = s.guard(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO trust_scores (user_id, score, previous_score, last_updated, factors, history)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id)
			DO UPDATE SET
				score = $2,
				previous_score = $3,
				last_updated = $4,
				factors = $5,
				history = $6`,
			sc.UserID, sc.Score, sc.PreviousScore, sc.LastUpdated, factorsRaw, historyRaw,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("put trust score %s: %w", sc.UserID, err)
	}
	return nil
}
