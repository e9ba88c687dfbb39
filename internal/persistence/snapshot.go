package persistence

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/observability"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotFormatVersion is bumped when core.SnapshotState changes shape
const snapshotFormatVersion = 1

// SnapshotManager stores engine snapshots and reads the event log back for
// recovery.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics) *SnapshotManager {
	return &SnapshotManager{
		db:      db,
		metrics: metrics,
		logger:  observability.NewLogger("snapshot"),
	}
}

// SaveSnapshot persists a snapshot. It is stored unverified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns
// nil, nil when none exists.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as usable for recovery
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or -1
// when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// EnvelopeFromRow rebuilds the envelope a row was written from
func EnvelopeFromRow(row EventRow) (*event.EventEnvelope, error) {
	et := event.ParseEventType(row.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("seq=%d: unknown event type %q", row.Sequence, row.EventType)
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		return nil, fmt.Errorf("seq=%d: malformed hash", row.Sequence)
	}

	env := &event.EventEnvelope{
		Sequence:       row.Sequence,
		IdempotencyKey: row.IdempotencyKey,
		EventType:      et,
		MarketID:       row.MarketID,
		Timestamp:      row.Timestamp.UnixMicro(),
		SourceSequence: row.SourceSequence,
		Payload:        row.Payload,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, nil
}

// SnapshotSource is the engine view the snapshot loop needs
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
	GetSequence() int64
}

// TakeSnapshot captures and stores the engine state. A snapshot built from
// live state is marked verified right away.
func (sm *SnapshotManager) TakeSnapshot(ctx context.Context, src SnapshotSource) (int64, error) {
	start := time.Now()
	snap := src.CreateSnapshotState()

	if err := sm.SaveSnapshot(ctx, snap); err != nil {
		return 0, err
	}
	if err := sm.MarkVerified(ctx, snap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap.Sequence, nil
}

// RunPeriodic takes a snapshot whenever at least every events have been
// emitted since the previous one, checking on each tick.
func (sm *SnapshotManager) RunPeriodic(ctx context.Context, src SnapshotSource, every int64, tick time.Duration) error {
	if every <= 0 {
		every = 100_000
	}
	if tick <= 0 {
		tick = 10 * time.Second
	}

	last := src.GetSequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if src.GetSequence()-last < every {
				continue
			}
			seq, err := sm.TakeSnapshot(ctx, src)
			if err != nil {
				sm.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			sm.logger.Info().Int64("sequence", seq).Msg("periodic snapshot saved")
		}
	}
}
