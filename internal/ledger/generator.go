package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for collateral movements
// and keeper payouts. Generation never mutates balances; the caller applies
// the returned batch once every precondition of the operation has passed.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// CollateralSale is one non-cash asset converted into the cash asset
type CollateralSale struct {
	AssetID      AssetID
	Amount       int64 // Units of the sold asset
	CashCredited int64 // Quote scale
}

// KeeperPayout is a cash transfer from a market's liquidation pool to a keeper
type KeeperPayout struct {
	Keeper      string
	Amount      int64
	JournalType JournalType
}

// LiquidationSettlement describes the funds moved by one liquidate call
type LiquidationSettlement struct {
	AccountID uuid.UUID
	MarketID  string
	// Forfeit moves all remaining margin of the account into the pool
	Forfeit bool
	Payouts []KeeperPayout
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	batch := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}
	return batch
}

// commit advances the batch sequence once a batch is fully generated
func (jg *JournalGenerator) commit(batch *Batch) *Batch {
	jg.sequence++
	return batch
}

func (jg *JournalGenerator) appendJournal(
	batch *Batch,
	debit, credit AccountKey,
	amount int64,
	journalType JournalType,
) {
	if amount <= 0 {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   journalType,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateMarginDeposit moves funds: external:deposits → user:margin
func (jg *JournalGenerator) GenerateMarginDeposit(
	eventRef string,
	accountID uuid.UUID,
	marketID string,
	assetID AssetID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	batch := jg.newBatch(eventRef, timestamp)
	jg.appendJournal(
		batch,
		NewMarginAccountKey(accountID, marketID, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		amount,
		JournalTypeMarginDeposit,
	)

	return jg.commit(batch), nil
}

// GenerateCollateralSale converts non-cash margin into cash through the
// market's swap account. Each sale produces one journal per asset so the
// ledger stays zero-sum per asset.
func (jg *JournalGenerator) GenerateCollateralSale(
	eventRef string,
	accountID uuid.UUID,
	marketID string,
	sales []CollateralSale,
	timestamp int64,
) (*Batch, error) {
	cashID := CashAssetID()
	batch := jg.newBatch(eventRef, timestamp)

	for _, sale := range sales {
		if sale.AssetID == cashID {
			return nil, fmt.Errorf("cannot sell the cash asset")
		}
		source := NewMarginAccountKey(accountID, marketID, sale.AssetID)
		if err := jg.balanceTracker.ValidateSufficient(source, sale.Amount); err != nil {
			return nil, fmt.Errorf("collateral sale pre-check failed: %w", err)
		}

		jg.appendJournal(
			batch,
			NewSystemAccountKey(marketID, SubTypeSystemCollateralSwap, sale.AssetID),
			source,
			sale.Amount,
			JournalTypeCollateralSaleDebit,
		)
		jg.appendJournal(
			batch,
			NewMarginAccountKey(accountID, marketID, cashID),
			NewSystemAccountKey(marketID, SubTypeSystemCollateralSwap, cashID),
			sale.CashCredited,
			JournalTypeCollateralSaleCredit,
		)
	}

	return jg.commit(batch), nil
}

// GenerateLiquidationSettlement forfeits the account's margin to the market
// pool (on full close) and pays keepers out of that pool. The pool is a
// system account and may go negative when forfeited collateral does not
// cover the payouts.
func (jg *JournalGenerator) GenerateLiquidationSettlement(
	eventRef string,
	settlement LiquidationSettlement,
	timestamp int64,
) (*Batch, error) {
	cashID := CashAssetID()
	batch := jg.newBatch(eventRef, timestamp)

	if settlement.Forfeit {
		balances := jg.balanceTracker.GetMarginBalances(settlement.AccountID, settlement.MarketID)
		for _, assetID := range sortedAssetIDs(balances) {
			amount := balances[assetID]
			if amount < 0 {
				return nil, fmt.Errorf("negative margin balance for asset %d: %d", assetID, amount)
			}
			jg.appendJournal(
				batch,
				NewSystemAccountKey(settlement.MarketID, SubTypeSystemLiquidationPool, assetID),
				NewMarginAccountKey(settlement.AccountID, settlement.MarketID, assetID),
				amount,
				JournalTypeCollateralForfeit,
			)
		}
	}

	pool := NewSystemAccountKey(settlement.MarketID, SubTypeSystemLiquidationPool, cashID)
	for _, payout := range settlement.Payouts {
		if payout.Amount < 0 {
			return nil, fmt.Errorf("negative payout to %s: %d", payout.Keeper, payout.Amount)
		}
		jg.appendJournal(batch, NewKeeperAccountKey(payout.Keeper), pool, payout.Amount, payout.JournalType)
	}

	return jg.commit(batch), nil
}

// CurrentSequence returns the next batch sequence (for snapshot creation)
func (jg *JournalGenerator) CurrentSequence() int64 {
	return jg.sequence
}

// SetSequence restores the batch sequence (used for snapshot restore)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func sortedAssetIDs(m map[AssetID]int64) []AssetID {
	ids := make([]AssetID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
