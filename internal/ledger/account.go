package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeKeeper
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeMargin AccountSubType = iota // Collateral deposited into one market

	// Keeper sub-types
	SubTypeKeeperRewards

	// System sub-types
	SubTypeSystemLiquidationPool // Forfeited collateral, source of keeper payouts
	SubTypeSystemCollateralSwap  // Counterparty for non-cash collateral sales

	// External sub-types
	SubTypeExternalDeposits
)

// CashAsset is the settlement asset every payout is made in
const CashAsset = "USD"

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{CashAsset: 1}
	idToAsset = map[AssetID]string{1: CashAsset}
)

// RegisterAsset returns the ID for asset, allocating one on first use
func RegisterAsset(asset string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()

	if id, ok := assetToID[asset]; ok {
		return id
	}
	id := AssetID(len(assetToID) + 1)
	assetToID[asset] = id
	idToAsset[id] = asset
	return id
}

func GetAssetID(asset string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	name, ok := idToAsset[id]
	return name, ok
}

// CashAssetID returns the ID of the settlement asset
func CashAssetID() AssetID {
	id, _ := GetAssetID(CashAsset)
	return id
}

// RegisteredAssets lists asset names ordered by ID
func RegisteredAssets() []string {
	assetMu.RLock()
	defer assetMu.RUnlock()

	ids := make([]int, 0, len(idToAsset))
	for id := range idToAsset {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, idToAsset[AssetID(id)])
	}
	return names
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	Owner    string // account UUID, keeper address, or system name
	MarketID string // empty for market-independent accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewMarginAccountKey creates the key for an account's collateral in one market
func NewMarginAccountKey(accountID uuid.UUID, marketID string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		Owner:    accountID.String(),
		MarketID: marketID,
		SubType:  SubTypeMargin,
		AssetID:  assetID,
	}
}

// NewKeeperAccountKey creates the payout key for a keeper address
func NewKeeperAccountKey(keeper string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeKeeper,
		Owner:   keeper,
		SubType: SubTypeKeeperRewards,
		AssetID: CashAssetID(),
	}
}

// NewSystemAccountKey creates a key for per-market system accounts
func NewSystemAccountKey(marketID string, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		Owner:    "system",
		MarketID: marketID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		Owner:   "external",
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s:%s", k.Owner, k.MarketID, k.subTypeName(), assetName)
	case AccountScopeKeeper:
		return fmt.Sprintf("keeper:%s:%s:%s", k.Owner, k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.MarketID, k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeMargin:
		return "margin"
	case SubTypeKeeperRewards:
		return "rewards"
	case SubTypeSystemLiquidationPool:
		return "liquidation_pool"
	case SubTypeSystemCollateralSwap:
		return "collateral_swap"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}
