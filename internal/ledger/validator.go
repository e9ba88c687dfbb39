package ledger

import (
	"fmt"
)

// InvariantValidator checks the accounting rules of the liquidation ledger:
// batches balance, keepers are only ever paid, every asset nets to zero,
// and balances owned by users or keepers never go negative. System
// accounts (the liquidation pool, the collateral swap desk) may run a
// deficit.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{tracker: tracker}
}

// ValidateBatchBalance checks a batch before it is applied
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	for _, j := range batch.Journals {
		if j.CreditAccount.Scope == AccountScopeKeeper {
			return fmt.Errorf("journal %s charges keeper %s", j.JournalID, j.CreditAccount.Owner)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for assetID, total := range v.tracker.ComputeGlobalBalance() {
		if total != 0 {
			name, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", name, total)
		}
	}
	return nil
}

// ValidateOwnedBalances verifies no user margin or keeper payout balance is
// negative. Keys are walked in path order so the first violation reported
// is stable.
func (v *InvariantValidator) ValidateOwnedBalances() error {
	for _, key := range v.tracker.SortedKeys() {
		switch key.Scope {
		case AccountScopeUser, AccountScopeKeeper:
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}
