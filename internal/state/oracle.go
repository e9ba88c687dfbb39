package state

import "sort"

// OraclePrice is the latest accepted price for a market or collateral asset
type OraclePrice struct {
	Key       string
	Price     int64 // price scale
	Sequence  int64
	Timestamp int64 // epoch micros
}

// PriceBook keeps the latest price per key. Markets and collateral assets
// share the namespace; collateral prices are keyed by asset name.
type PriceBook struct {
	prices map[string]*OraclePrice
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]*OraclePrice)}
}

// Update accepts a price unless it is older than the one held.
// Sequence 0 means unsequenced and is ordered by timestamp alone.
func (pb *PriceBook) Update(key string, price, sequence, timestamp int64) bool {
	if existing, ok := pb.prices[key]; ok {
		if sequence != 0 && existing.Sequence != 0 && sequence <= existing.Sequence {
			return false
		}
		if timestamp < existing.Timestamp {
			return false
		}
	}
	pb.prices[key] = &OraclePrice{Key: key, Price: price, Sequence: sequence, Timestamp: timestamp}
	return true
}

// Latest returns the current price for key
func (pb *PriceBook) Latest(key string) (int64, bool) {
	p, ok := pb.prices[key]
	if !ok {
		return 0, false
	}
	return p.Price, true
}

func (pb *PriceBook) Get(key string) (*OraclePrice, bool) {
	p, ok := pb.prices[key]
	return p, ok
}

// Set overwrites a price (used for snapshot restore)
func (pb *PriceBook) Set(p *OraclePrice) {
	pb.prices[p.Key] = p
}

// All returns prices sorted by key
func (pb *PriceBook) All() []*OraclePrice {
	result := make([]*OraclePrice, 0, len(pb.prices))
	for _, p := range pb.prices {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}
