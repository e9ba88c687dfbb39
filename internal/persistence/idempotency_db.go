package persistence

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the durable dedup tier. It looks keys up in
// the event log; commands are found through the envelope they produced.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// logKey maps a dedup key onto the (event_type, idempotency_key) pair
// stored in event_log.events.
func logKey(eventType, idempotencyKey string) (string, string) {
	switch eventType {
	case core.CommandFlagPosition:
		flagged := event.PositionFlaggedLiquidation{CommandRef: idempotencyKey}
		return flagged.EventType().String(), flagged.IdempotencyKey()
	case core.CommandLiquidatePosition:
		liquidated := event.PositionLiquidated{CommandRef: idempotencyKey}
		return liquidated.EventType().String(), liquidated.IdempotencyKey()
	default:
		return eventType, idempotencyKey
	}
}

// IsDuplicate checks whether the key is already in the event log
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	eventType, idempotencyKey = logKey(eventType, idempotencyKey)

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
