package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, amount int64) {
	bt.balances[key] = amount
}

// === Margin Queries ===

// GetMarginBalance returns an account's balance of one asset in one market
func (bt *BalanceTracker) GetMarginBalance(accountID uuid.UUID, marketID string, assetID AssetID) int64 {
	return bt.GetBalance(NewMarginAccountKey(accountID, marketID, assetID))
}

// GetMarginBalances returns every non-zero asset balance of an account in a market
func (bt *BalanceTracker) GetMarginBalances(accountID uuid.UUID, marketID string) map[AssetID]int64 {
	owner := accountID.String()
	result := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == SubTypeMargin &&
			key.Owner == owner && key.MarketID == marketID && balance != 0 {
			result[key.AssetID] = balance
		}
	}
	return result
}

// GetMarketDeposits sums margin balances per asset across all accounts in a market
func (bt *BalanceTracker) GetMarketDeposits(marketID string) map[AssetID]int64 {
	result := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == SubTypeMargin && key.MarketID == marketID {
			result[key.AssetID] += balance
		}
	}
	return result
}

// GetKeeperBalance returns the cash paid out to a keeper address
func (bt *BalanceTracker) GetKeeperBalance(keeper string) int64 {
	return bt.GetBalance(NewKeeperAccountKey(keeper))
}

// GetLiquidationPoolBalance returns the market pool's cash balance
func (bt *BalanceTracker) GetLiquidationPoolBalance(marketID string) int64 {
	return bt.GetBalance(NewSystemAccountKey(marketID, SubTypeSystemLiquidationPool, CashAssetID()))
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks that an account can fund a transfer
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SortedKeys returns all tracked keys ordered by AccountPath
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
