package projection

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/ledger"
	"PerpLiquidator/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker updates the read-side tables from engine outputs. The
// engine never blocks on it: outputs are dropped when it falls behind, and
// RebuildProjections restores the tables from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// LastSequence returns the last sequence the worker handled, -1 if none
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Run consumes outputs until the channel closes or ctx is cancelled
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Str("event_type", output.Envelope.EventType.String()).
					Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdates.WithLabelValues(output.Envelope.EventType.String()).
					Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if !output.Batch.IsEmpty() {
		for _, j := range output.Batch.Journals {
			if err := updateBalanceProjection(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	switch ev := output.Event.(type) {
	case *event.PositionFlaggedLiquidation:
		if err := recordFlag(ctx, tx, seq, ev); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	case *event.PositionLiquidated:
		if err := recordLiquidation(ctx, tx, seq, ev); err != nil {
			return fmt.Errorf("liquidation history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection mirrors the ledger: a debit raises the balance,
// a credit lowers it.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	asset, _ := ledger.GetAssetName(j.AssetID)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount.AccountPath(), asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3::BIGINT, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount.AccountPath(), asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func recordFlag(ctx context.Context, tx *sql.Tx, seq int64, ev *event.PositionFlaggedLiquidation) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, event_type, command_ref, account_id, market_id, keeper, flagger, price, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, ev.EventType().String(), ev.CommandRef, ev.AccountID, ev.Market, ev.Flagger, ev.Price,
		time.UnixMicro(ev.Timestamp).UTC()); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.keeper_earnings (keeper, flags, last_sequence, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (keeper) DO UPDATE SET
			flags = projections.keeper_earnings.flags + 1,
			last_sequence = $2,
			updated_at = NOW()
	`, ev.Flagger, seq)
	return err
}

func recordLiquidation(ctx context.Context, tx *sql.Tx, seq int64, ev *event.PositionLiquidated) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, event_type, command_ref, account_id, market_id, keeper, flagger,
			 size_liquidated, size_remaining, liq_reward, keeper_fee, price, bypassed, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, ev.EventType().String(), ev.CommandRef, ev.AccountID, ev.Market, ev.Liquidator, ev.Flagger,
		ev.SizeLiquidated, ev.SizeRemaining, ev.LiqReward, ev.KeeperFee, ev.Price, ev.Bypassed,
		time.UnixMicro(ev.Timestamp).UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.keeper_earnings (keeper, liq_rewards, last_sequence, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (keeper) DO UPDATE SET
			liq_rewards = projections.keeper_earnings.liq_rewards + $2,
			last_sequence = $3,
			updated_at = NOW()
	`, ev.Flagger, ev.LiqReward, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.keeper_earnings (keeper, keeper_fees, liquidations, last_sequence, updated_at)
		VALUES ($1, $2, 1, $3, NOW())
		ON CONFLICT (keeper) DO UPDATE SET
			keeper_fees = projections.keeper_earnings.keeper_fees + $2,
			liquidations = projections.keeper_earnings.liquidations + 1,
			last_sequence = $3,
			updated_at = NOW()
	`, ev.Liquidator, ev.KeeperFee, seq)
	return err
}

// RebuildProjections truncates the projection tables and recomputes them
// from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct {
		name string
		sql  string
	}{
		{"truncate", `TRUNCATE projections.balances, projections.liquidation_history, projections.keeper_earnings`},
		{"watermark", `DELETE FROM projections.watermark WHERE worker_id = 'main'`},
		{"balances", `
			INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
			SELECT account_path, asset, SUM(delta), MAX(sequence)
			FROM (
				SELECT debit_account AS account_path, asset, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT credit_account AS account_path, asset, -amount AS delta, sequence FROM event_log.journal
			) moves
			GROUP BY account_path, asset`},
		{"liquidation_history", `
			INSERT INTO projections.liquidation_history
				(sequence, event_type, command_ref, account_id, market_id, keeper, flagger,
				 size_liquidated, size_remaining, liq_reward, keeper_fee, price, bypassed, timestamp)
			SELECT sequence, event_type,
			       payload->>'command_ref',
			       (payload->>'account_id')::UUID,
			       payload->>'market_id',
			       COALESCE(payload->>'liquidator', payload->>'flagger'),
			       payload->>'flagger',
			       COALESCE((payload->>'size_liquidated')::BIGINT, 0),
			       COALESCE((payload->>'size_remaining')::BIGINT, 0),
			       COALESCE((payload->>'liq_reward')::BIGINT, 0),
			       COALESCE((payload->>'keeper_fee')::BIGINT, 0),
			       (payload->>'price')::BIGINT,
			       COALESCE((payload->>'bypassed')::BOOLEAN, FALSE),
			       timestamp
			FROM event_log.events
			WHERE event_type IN ('PositionFlaggedLiquidation', 'PositionLiquidated')`},
		{"keeper_earnings", `
			INSERT INTO projections.keeper_earnings
				(keeper, liq_rewards, keeper_fees, flags, liquidations, last_sequence, updated_at)
			SELECT keeper, SUM(liq_rewards), SUM(keeper_fees), SUM(flags), SUM(liquidations), MAX(sequence), NOW()
			FROM (
				SELECT flagger AS keeper, 0 AS liq_rewards, 0 AS keeper_fees, 1 AS flags, 0 AS liquidations, sequence
				FROM projections.liquidation_history WHERE event_type = 'PositionFlaggedLiquidation'
				UNION ALL
				SELECT flagger, liq_reward, 0, 0, 0, sequence
				FROM projections.liquidation_history WHERE event_type = 'PositionLiquidated'
				UNION ALL
				SELECT keeper, 0, keeper_fee, 0, 1, sequence
				FROM projections.liquidation_history WHERE event_type = 'PositionLiquidated'
			) earnings
			GROUP BY keeper`},
		{"watermark", `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			SELECT 'main', MAX(sequence), NOW() FROM event_log.events HAVING MAX(sequence) IS NOT NULL`},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("rebuild %s: %w", stmt.name, err)
		}
	}

	return tx.Commit()
}
