package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultPageSize is used when a caller passes a non-positive limit
const DefaultPageSize = 100

const maxPageSize = 1000

// QueryService provides read-only access to the projection tables and the
// journal. Responses carry as_of_sequence, the projection watermark, so a
// caller can tell how far behind the engine the read side is.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// HistoryFilter narrows a liquidation history query. BeforeSequence pages
// backwards from the newest record.
type HistoryFilter struct {
	AccountID      *uuid.UUID
	MarketID       *string
	Keeper         *string
	BeforeSequence *int64
	Limit          int
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetLiquidationHistory returns flags and liquidations newest first
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, f HistoryFilter) (*LiquidationHistory, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != nil {
		add("account_id = $%d", *f.AccountID)
	}
	if f.MarketID != nil {
		add("market_id = $%d", *f.MarketID)
	}
	if f.Keeper != nil {
		add("keeper = $%d", *f.Keeper)
	}
	if f.BeforeSequence != nil {
		add("sequence < $%d", *f.BeforeSequence)
	}

	query := `
		SELECT sequence, event_type, command_ref, account_id, market_id, keeper, flagger,
		       size_liquidated, size_remaining, liq_reward, keeper_fee, price, bypassed, timestamp
		FROM projections.liquidation_history`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, pageSize(f.Limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := &LiquidationHistory{Records: []LiquidationRecord{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			r                                                           LiquidationRecord
			sizeLiquidated, sizeRemaining, liqReward, keeperFee, price int64
		)
		if err := rows.Scan(
			&r.Sequence, &r.EventType, &r.CommandRef, &r.AccountID, &r.MarketID, &r.Keeper, &r.Flagger,
			&sizeLiquidated, &sizeRemaining, &liqReward, &keeperFee, &price, &r.Bypassed, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.SizeLiquidated = Quantity(sizeLiquidated)
		r.SizeRemaining = Quantity(sizeRemaining)
		r.LiqReward = Quote(liqReward)
		r.KeeperFee = Quote(keeperFee)
		r.Price = Price(price)
		r.Timestamp = r.Timestamp.UTC()
		history.Records = append(history.Records, r)
	}

	return history, rows.Err()
}

// GetKeeperEarnings returns the aggregated payouts of a keeper. A keeper
// with no activity reads as all zeros.
func (qs *QueryService) GetKeeperEarnings(ctx context.Context, keeper string) (*KeeperEarnings, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var liqRewards, keeperFees int64
	out := &KeeperEarnings{Keeper: keeper, LastSequence: -1, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT liq_rewards, keeper_fees, flags, liquidations, last_sequence
		FROM projections.keeper_earnings
		WHERE keeper = $1
	`, keeper).Scan(&liqRewards, &keeperFees, &out.Flags, &out.Liquidations, &out.LastSequence)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	out.LiqRewards = Quote(liqRewards)
	out.KeeperFees = Quote(keeperFees)
	out.Total = Quote(liqRewards + keeperFees)
	return out, nil
}

// GetAccountBalances returns the projected margin balances of an account
// across all markets.
func (qs *QueryService) GetAccountBalances(ctx context.Context, accountID uuid.UUID) (*BalanceResponse, error) {
	return qs.balancesUnder(ctx, accountID.String(), fmt.Sprintf("user:%s:%%", accountID))
}

// GetKeeperBalances returns the projected reward balances of a keeper
func (qs *QueryService) GetKeeperBalances(ctx context.Context, keeper string) (*BalanceResponse, error) {
	return qs.balancesUnder(ctx, keeper, fmt.Sprintf("keeper:%s:%%", keeper))
}

func (qs *QueryService) balancesUnder(ctx context.Context, owner, pattern string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance, last_sequence
		FROM projections.balances
		WHERE account_path LIKE $1
		ORDER BY account_path, asset
	`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalanceResponse{Owner: owner, Balances: []BalanceEntry{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			b       BalanceEntry
			balance int64
		)
		if err := rows.Scan(&b.AccountPath, &b.Asset, &balance, &b.LastSequence); err != nil {
			return nil, err
		}
		b.Balance = Quantity(balance)
		resp.Balances = append(resp.Balances, b)
	}

	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching an account path
// prefix, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix + "%"}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = Quantity(amount)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the event log and that every
// asset's projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::BIGINT AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var (
			asset string
			total int64
		)
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: Quantity(total),
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
