package state

import (
	fpmath "PerpLiquidator/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// FeeTier is a pair of fee discounts in basis points
type FeeTier struct {
	TierID        uint8
	MakerDiscount int64
	TakerDiscount int64
}

// FeeTierAssignment binds an account to a tier until Expiry (epoch micros)
type FeeTierAssignment struct {
	AccountID uuid.UUID
	TierID    uint8
	Expiry    int64
}

// FeeTierRegistry holds tier definitions and account assignments.
// Tier 0 is the implicit no-discount tier.
type FeeTierRegistry struct {
	tiers       map[uint8]FeeTier
	assignments map[uuid.UUID]FeeTierAssignment
}

func NewFeeTierRegistry() *FeeTierRegistry {
	return &FeeTierRegistry{
		tiers:       map[uint8]FeeTier{0: {TierID: 0}},
		assignments: make(map[uuid.UUID]FeeTierAssignment),
	}
}

// SetTier defines or replaces a tier
func (r *FeeTierRegistry) SetTier(tier FeeTier) error {
	if tier.MakerDiscount < 0 || tier.MakerDiscount > fpmath.BpsDenominator ||
		tier.TakerDiscount < 0 || tier.TakerDiscount > fpmath.BpsDenominator {
		return fmt.Errorf("tier %d: discounts must be within [0, %d] bps", tier.TierID, fpmath.BpsDenominator)
	}
	r.tiers[tier.TierID] = tier
	return nil
}

// GetTier returns a tier definition. Unknown tiers carry no discount.
func (r *FeeTierRegistry) GetTier(tierID uint8) FeeTier {
	if tier, ok := r.tiers[tierID]; ok {
		return tier
	}
	return FeeTier{TierID: tierID}
}

// Assign records an account's tier. A later assignment replaces an earlier one.
func (r *FeeTierRegistry) Assign(a FeeTierAssignment) {
	r.assignments[a.AccountID] = a
}

// TierOf returns the account's tier at now, 0 if unassigned or expired
func (r *FeeTierRegistry) TierOf(accountID uuid.UUID, now int64) uint8 {
	a, ok := r.assignments[accountID]
	if !ok || a.Expiry <= now {
		return 0
	}
	return a.TierID
}

// Tiers returns all tier definitions
func (r *FeeTierRegistry) Tiers() []FeeTier {
	result := make([]FeeTier, 0, len(r.tiers))
	for i := 0; i <= 255; i++ {
		if tier, ok := r.tiers[uint8(i)]; ok {
			result = append(result, tier)
		}
	}
	return result
}

// Assignments returns all assignments in account order, including expired ones
func (r *FeeTierRegistry) Assignments() []FeeTierAssignment {
	result := make([]FeeTierAssignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].AccountID[:], result[j].AccountID[:]) < 0
	})
	return result
}
