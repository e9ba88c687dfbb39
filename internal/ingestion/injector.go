package ingestion

import (
	"PerpLiquidator/internal/event"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var errNotPositive = errors.New("must be positive")

// Injector submits admin events through the dispatcher loop, so injected
// events are ordered with the NATS feed. Each call waits for the engine's
// verdict.
type Injector struct {
	dispatcher *Dispatcher
	now        func() time.Time
}

func NewInjector(dispatcher *Dispatcher) *Injector {
	return &Injector{dispatcher: dispatcher, now: time.Now}
}

// Inject submits one input event
func (inj *Injector) Inject(ctx context.Context, evt event.Event) error {
	if evt.EventType().IsOutput() {
		return fmt.Errorf("cannot inject output event %s", evt.EventType())
	}

	req := injectRequest{in: Inbound{Event: evt}, reply: make(chan error, 1)}
	select {
	case inj.dispatcher.injectChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPrice publishes an oracle price for a market or collateral asset
func (inj *Injector) InjectPrice(ctx context.Context, marketID string, price, priceSequence int64) error {
	if price <= 0 {
		return fmt.Errorf("price %w", errNotPositive)
	}
	return inj.Inject(ctx, &event.PriceUpdated{
		Market:         marketID,
		Price:          price,
		PriceSequence:  priceSequence,
		PriceTimestamp: inj.now().UnixMicro(),
	})
}

// InjectDeposit credits collateral to an account in a market. Admin
// deposits are unsequenced and bypass the feed's sequence check.
func (inj *Injector) InjectDeposit(ctx context.Context, accountID uuid.UUID, marketID, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount %w", errNotPositive)
	}
	return inj.Inject(ctx, &event.MarginDeposited{
		DepositID: uuid.New(),
		AccountID: accountID,
		Market:    marketID,
		Asset:     asset,
		Amount:    amount,
		Timestamp: inj.now().UnixMicro(),
	})
}

// InjectKeeperEndorsement adds or removes an endorsed keeper
func (inj *Injector) InjectKeeperEndorsement(ctx context.Context, address string, endorsed bool) error {
	return inj.Inject(ctx, &event.KeeperEndorsementUpdated{
		Address:   address,
		Endorsed:  endorsed,
		Timestamp: inj.now().UnixMicro(),
	})
}
