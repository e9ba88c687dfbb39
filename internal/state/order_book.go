package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PendingOrder is a committed order not yet settled.
// An account holds at most one pending order per market.
type PendingOrder struct {
	OrderID        string
	AccountID      uuid.UUID
	MarketID       string
	SizeDelta      int64 // quantity scale, signed
	CommitmentTime int64 // epoch micros
}

type PendingOrderBook struct {
	orders map[PositionKey]*PendingOrder
}

func NewPendingOrderBook() *PendingOrderBook {
	return &PendingOrderBook{orders: make(map[PositionKey]*PendingOrder)}
}

// Commit records an order, replacing any earlier pending order
func (ob *PendingOrderBook) Commit(order *PendingOrder) {
	ob.orders[PositionKey{AccountID: order.AccountID, MarketID: order.MarketID}] = order
}

func (ob *PendingOrderBook) Get(accountID uuid.UUID, marketID string) (*PendingOrder, bool) {
	o, ok := ob.orders[PositionKey{AccountID: accountID, MarketID: marketID}]
	return o, ok
}

// Remove drops and returns the pending order, if any
func (ob *PendingOrderBook) Remove(accountID uuid.UUID, marketID string) (*PendingOrder, bool) {
	key := PositionKey{AccountID: accountID, MarketID: marketID}
	o, ok := ob.orders[key]
	if ok {
		delete(ob.orders, key)
	}
	return o, ok
}

// All returns every pending order in deterministic order
func (ob *PendingOrderBook) All() []*PendingOrder {
	result := make([]*PendingOrder, 0, len(ob.orders))
	for _, o := range ob.orders {
		result = append(result, o)
	}
	sortPendingOrders(result)
	return result
}

func sortPendingOrders(orders []*PendingOrder) {
	sort.Slice(orders, func(i, j int) bool {
		if c := bytes.Compare(orders[i].AccountID[:], orders[j].AccountID[:]); c != 0 {
			return c < 0
		}
		return orders[i].MarketID < orders[j].MarketID
	})
}
