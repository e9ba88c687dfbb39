package math

// OrderFeeInput describes an order against the current market skew
type OrderFeeInput struct {
	Skew          int64 // Quantity scale, signed
	SizeDelta     int64 // Quantity scale, signed
	Price         int64 // Price scale
	MakerFee      int64 // Rate scale
	TakerFee      int64 // Rate scale
	MakerDiscount int64 // Bps
	TakerDiscount int64 // Bps
}

// SplitMakerTaker splits |sizeDelta| into the part that reduces skew (maker)
// and the part that adds to it (taker).
func SplitMakerTaker(skew, sizeDelta int64) (makerSize, takerSize int64) {
	size := Abs(sizeDelta)
	if skew == 0 || Sign(skew) == Sign(sizeDelta) {
		return 0, size
	}
	makerSize = Min(size, Abs(skew))
	return makerSize, size - makerSize
}

// ComputeOrderFees returns the discounted order fee in quote scale.
// Each component is discounted separately and truncated.
func ComputeOrderFees(in OrderFeeInput) int64 {
	makerSize, takerSize := SplitMakerTaker(in.Skew, in.SizeDelta)

	var fee int64
	if makerSize > 0 {
		makerFee := ApplyRate(ComputeNotional(makerSize, in.Price), in.MakerFee)
		fee += ApplyDiscountBps(makerFee, in.MakerDiscount)
	}
	if takerSize > 0 {
		takerFee := ApplyRate(ComputeNotional(takerSize, in.Price), in.TakerFee)
		fee += ApplyDiscountBps(takerFee, in.TakerDiscount)
	}
	return fee
}
