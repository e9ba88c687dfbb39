package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMarginDeposit JournalType = iota
	JournalTypeCollateralSaleDebit
	JournalTypeCollateralSaleCredit
	JournalTypeCollateralForfeit
	JournalTypeLiquidationReward
	JournalTypeKeeperFee
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeMarginDeposit:
		return "MarginDeposit"
	case JournalTypeCollateralSaleDebit:
		return "CollateralSaleDebit"
	case JournalTypeCollateralSaleCredit:
		return "CollateralSaleCredit"
	case JournalTypeCollateralForfeit:
		return "CollateralForfeit"
	case JournalTypeLiquidationReward:
		return "LiquidationReward"
	case JournalTypeKeeperFee:
		return "KeeperFee"
	case JournalTypeAdjustment:
		return "Adjustment"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command or event
	Sequence      int64       // Global batch sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries applied atomically
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// IsEmpty reports whether the batch moves no funds
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every
// entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
