package ledger_test

import (
	"PerpLiquidator/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

const market = "BTC-USD-PERP"

func mustApply(t *testing.T, bt *ledger.BalanceTracker, batch *ledger.Batch, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply batch: %v", err)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_MarginPath(t *testing.T) {
	accountID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewMarginAccountKey(accountID, market, ledger.CashAssetID())

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:BTC-USD-PERP:margin:USD"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_KeeperPath(t *testing.T) {
	key := ledger.NewKeeperAccountKey("0xkeeper")

	if path := key.AccountPath(); path != "keeper:0xkeeper:rewards:USD" {
		t.Errorf("got %q, want %q", path, "keeper:0xkeeper:rewards:USD")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(market, ledger.SubTypeSystemLiquidationPool, ledger.CashAssetID())

	if path := key.AccountPath(); path != "system:BTC-USD-PERP:liquidation_pool:USD" {
		t.Errorf("got %q, want %q", path, "system:BTC-USD-PERP:liquidation_pool:USD")
	}
}

func TestRegisterAsset_Stable(t *testing.T) {
	first := ledger.RegisterAsset("sETH")
	second := ledger.RegisterAsset("sETH")
	if first != second {
		t.Errorf("asset id changed between registrations: %d vs %d", first, second)
	}
	if first == ledger.CashAssetID() {
		t.Error("non-cash asset must not share the cash asset id")
	}

	name, ok := ledger.GetAssetName(first)
	if !ok || name != "sETH" {
		t.Errorf("got %q (ok=%v), want sETH", name, ok)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewKeeperAccountKey("0xkeeper")
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			AssetID:       key.AssetID,
			Amount:        10,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for self transfer")
	}
}

func TestBatchValidate_MixedAssets_Fails(t *testing.T) {
	batchID := uuid.New()
	other := ledger.RegisterAsset("sBTC")
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewKeeperAccountKey("0xkeeper"),
			CreditAccount: ledger.NewSystemAccountKey(market, ledger.SubTypeSystemLiquidationPool, other),
			AssetID:       ledger.CashAssetID(),
			Amount:        10,
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected error for mixed assets")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateMarginDeposit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	accountID := uuid.New()

	batch, err := gen.GenerateMarginDeposit("dep-1", accountID, market, ledger.CashAssetID(), 1_000, 1)
	mustApply(t, bt, batch, err)

	if got := bt.GetMarginBalance(accountID, market, ledger.CashAssetID()); got != 1_000 {
		t.Errorf("margin balance: got %d, want 1000", got)
	}
	if gen.CurrentSequence() != 1 {
		t.Errorf("sequence: got %d, want 1", gen.CurrentSequence())
	}

	if _, err := gen.GenerateMarginDeposit("dep-2", accountID, market, ledger.CashAssetID(), 0, 1); err == nil {
		t.Error("expected error for zero deposit")
	}
	if gen.CurrentSequence() != 1 {
		t.Errorf("failed generation must not advance sequence, got %d", gen.CurrentSequence())
	}
}

func TestGenerateCollateralSale(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	accountID := uuid.New()
	sETH := ledger.RegisterAsset("sETH")

	batch, err := gen.GenerateMarginDeposit("dep", accountID, market, sETH, 2_000_000, 1)
	mustApply(t, bt, batch, err)

	sale := []ledger.CollateralSale{{AssetID: sETH, Amount: 2_000_000, CashCredited: 3_000_000_000}}
	batch, err = gen.GenerateCollateralSale("sale", accountID, market, sale, 2)
	mustApply(t, bt, batch, err)

	if got := bt.GetMarginBalance(accountID, market, sETH); got != 0 {
		t.Errorf("sETH balance: got %d, want 0", got)
	}
	if got := bt.GetMarginBalance(accountID, market, ledger.CashAssetID()); got != 3_000_000_000 {
		t.Errorf("cash balance: got %d, want 3000000000", got)
	}

	validator := ledger.NewInvariantValidator(bt)
	if err := validator.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger must stay zero-sum per asset: %v", err)
	}
}

func TestGenerateCollateralSale_Insufficient_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	sETH := ledger.RegisterAsset("sETH")

	sale := []ledger.CollateralSale{{AssetID: sETH, Amount: 1, CashCredited: 1}}
	if _, err := gen.GenerateCollateralSale("sale", uuid.New(), market, sale, 1); err == nil {
		t.Error("expected pre-check failure")
	}
}

func TestGenerateLiquidationSettlement_ForfeitAndPayouts(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)
	accountID := uuid.New()

	batch, err := gen.GenerateMarginDeposit("dep", accountID, market, ledger.CashAssetID(), 500, 1)
	mustApply(t, bt, batch, err)

	batch, err = gen.GenerateLiquidationSettlement("liq", ledger.LiquidationSettlement{
		AccountID: accountID,
		MarketID:  market,
		Forfeit:   true,
		Payouts: []ledger.KeeperPayout{
			{Keeper: "0xflagger", Amount: 40, JournalType: ledger.JournalTypeLiquidationReward},
			{Keeper: "0xliquidator", Amount: 7, JournalType: ledger.JournalTypeKeeperFee},
			{Keeper: "0xendorsed", Amount: 0, JournalType: ledger.JournalTypeLiquidationReward},
		},
	}, 2)
	mustApply(t, bt, batch, err)

	if got := len(batch.Journals); got != 3 {
		t.Errorf("zero payouts must be skipped: got %d journals, want 3", got)
	}
	if got := bt.GetMarginBalance(accountID, market, ledger.CashAssetID()); got != 0 {
		t.Errorf("margin after forfeit: got %d, want 0", got)
	}
	if got := bt.GetLiquidationPoolBalance(market); got != 453 {
		t.Errorf("pool: got %d, want 453", got)
	}
	if got := bt.GetKeeperBalance("0xflagger"); got != 40 {
		t.Errorf("flagger: got %d, want 40", got)
	}
	if got := bt.GetKeeperBalance("0xliquidator"); got != 7 {
		t.Errorf("liquidator: got %d, want 7", got)
	}
}

func TestGenerateLiquidationSettlement_PoolMayGoNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)

	batch, err := gen.GenerateLiquidationSettlement("liq", ledger.LiquidationSettlement{
		AccountID: uuid.New(),
		MarketID:  market,
		Payouts:   []ledger.KeeperPayout{{Keeper: "0xk", Amount: 9, JournalType: ledger.JournalTypeKeeperFee}},
	}, 1)
	mustApply(t, bt, batch, err)

	if got := bt.GetLiquidationPoolBalance(market); got != -9 {
		t.Errorf("pool: got %d, want -9", got)
	}
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestInvariantValidator_RejectsKeeperCharge(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewSystemAccountKey(market, ledger.SubTypeSystemLiquidationPool, ledger.CashAssetID()),
			CreditAccount: ledger.NewKeeperAccountKey("0xkeeper"),
			AssetID:       ledger.CashAssetID(),
			Amount:        5,
			JournalType:   ledger.JournalTypeKeeperFee,
		}},
	}

	if err := ledger.NewInvariantValidator(ledger.NewBalanceTracker()).ValidateBatchBalance(batch); err == nil {
		t.Error("a journal crediting a keeper account must be rejected")
	}
}

func TestInvariantValidator_OwnedBalances(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(bt)
	accountID := uuid.New()

	bt.SetBalance(ledger.NewSystemAccountKey(market, ledger.SubTypeSystemLiquidationPool, ledger.CashAssetID()), -10)
	if err := validator.ValidateOwnedBalances(); err != nil {
		t.Errorf("pool deficit is allowed: %v", err)
	}

	bt.SetBalance(ledger.NewMarginAccountKey(accountID, market, ledger.CashAssetID()), -1)
	if err := validator.ValidateOwnedBalances(); err == nil {
		t.Error("negative margin must be reported")
	}
}

// ============================================================================
// Test: BalanceTracker queries
// ============================================================================

func TestBalanceTracker_MarketDeposits(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0, bt)

	for i := 0; i < 3; i++ {
		batch, err := gen.GenerateMarginDeposit("dep", uuid.New(), market, ledger.CashAssetID(), 100, 1)
		mustApply(t, bt, batch, err)
	}
	batch, err := gen.GenerateMarginDeposit("dep", uuid.New(), "ETH-USD-PERP", ledger.CashAssetID(), 100, 1)
	mustApply(t, bt, batch, err)

	deposits := bt.GetMarketDeposits(market)
	if deposits[ledger.CashAssetID()] != 300 {
		t.Errorf("market deposits: got %d, want 300", deposits[ledger.CashAssetID()])
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewKeeperAccountKey("0xk")
	bt.SetBalance(key, 42)

	snap := bt.Snapshot()
	bt.SetBalance(key, 1)

	if snap[key] != 42 {
		t.Errorf("snapshot must be a copy: got %d, want 42", snap[key])
	}
}
