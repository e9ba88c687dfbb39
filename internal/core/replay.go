package core

import (
	"PerpLiquidator/internal/event"
	"errors"
	"fmt"
)

// ErrStateHashMismatch means replay diverged from the logged hash chain
var ErrStateHashMismatch = errors.New("state hash mismatch")

// BeginReplay stops outputs from reaching the persistence and projection
// channels until EndReplay is called.
func (e *Engine) BeginReplay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaying = true
}

func (e *Engine) EndReplay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaying = false
}

// ReplayEnvelope re-applies one logged envelope. Feed events are applied
// again. Flag and liquidation outputs are turned back into the command that
// produced them; the command regenerates its side-effect outputs, so those
// envelopes are skipped. Once the engine has caught up with an envelope its
// logged state hash must match the local chain tip.
func (e *Engine) ReplayEnvelope(env *event.EventEnvelope) error {
	seq := e.GetSequence()
	if seq > env.Sequence {
		return e.verifyReplayed(env)
	}
	switch env.EventType {
	case event.EventTypeOrderCanceled, event.EventTypeCollateralSold:
		// Emitted ahead of PositionFlaggedLiquidation by the same command
		return nil
	case event.EventTypePositionFlaggedLiquidation:
	default:
		if seq != env.Sequence {
			return fmt.Errorf("replay gap: engine at %d, log at %d", seq, env.Sequence)
		}
	}

	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", env.Sequence, err)
	}

	switch ev := evt.(type) {
	case *event.PositionFlaggedLiquidation:
		_, err = e.FlagPosition(&FlagPositionCommand{
			CommandID: ev.CommandRef,
			AccountID: ev.AccountID,
			MarketID:  ev.Market,
			Keeper:    ev.Flagger,
			Timestamp: ev.Timestamp,
		})
	case *event.PositionLiquidated:
		_, err = e.LiquidatePosition(&LiquidatePositionCommand{
			CommandID: ev.CommandRef,
			AccountID: ev.AccountID,
			MarketID:  ev.Market,
			Keeper:    ev.Liquidator,
			Timestamp: ev.Timestamp,
		})
	case *event.FundingRecomputed:
		return fmt.Errorf("replay seq=%d: funding signal without liquidation", env.Sequence)
	default:
		err = e.ApplyEvent(evt)
	}
	if err != nil {
		return fmt.Errorf("replay seq=%d type=%s: %w", env.Sequence, env.EventType, err)
	}

	return e.verifyReplayed(env)
}

func (e *Engine) verifyReplayed(env *event.EventEnvelope) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sequence != env.Sequence+1 {
		return nil
	}
	if tip := e.hasher.Tip(); tip != env.StateHash {
		return fmt.Errorf("%w at seq=%d: log=%x local=%x", ErrStateHashMismatch, env.Sequence, env.StateHash, tip)
	}
	return nil
}
