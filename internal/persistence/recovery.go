package persistence

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/observability"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// RecoveryResult summarizes a warm or cold start
type RecoveryResult struct {
	SnapshotSequence int64 // -1 when no snapshot was found
	Replayed         int64
	NextSequence     int64
}

// Recover restores the latest verified snapshot into engine and replays
// the event log after it. The engine must be fresh and must not yet have a
// durable dedup tier attached.
func Recover(ctx context.Context, sm *SnapshotManager, engine *core.Engine, metrics *observability.Metrics, logger zerolog.Logger) (RecoveryResult, error) {
	result := RecoveryResult{SnapshotSequence: -1}

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil {
		return result, err
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			return result, fmt.Errorf("restore snapshot: %w", err)
		}
		result.SnapshotSequence = snap.Sequence
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot found, replaying from sequence 0")
	}

	engine.BeginReplay()
	defer engine.EndReplay()

	from := engine.GetSequence()
	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return result, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			env, err := EnvelopeFromRow(row)
			if err != nil {
				return result, err
			}
			if err := engine.ReplayEnvelope(env); err != nil {
				return result, err
			}
			result.Replayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	result.NextSequence = engine.GetSequence()
	if result.Replayed > 0 {
		logger.Info().
			Int64("replayed", result.Replayed).
			Int64("next_sequence", result.NextSequence).
			Msg("event log replayed")
	}
	return result, nil
}
