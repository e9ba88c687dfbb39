package ingestion

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"PerpLiquidator/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the part of core.Engine the dispatcher drives
type Engine interface {
	ApplyEvent(evt event.Event) error
	FlagPosition(cmd *core.FlagPositionCommand) (*core.FlagResult, error)
	LiquidatePosition(cmd *core.LiquidatePositionCommand) (*core.LiquidationResult, error)
}

// Dispatcher is the single loop feeding the engine from NATS and from the
// in-process injector.
type Dispatcher struct {
	engine     Engine
	subjects   subjectIndex
	injectChan chan injectRequest
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

type injectRequest struct {
	in    Inbound
	reply chan error
}

func NewDispatcher(engine Engine, subjects []SubjectConfig, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		engine:     engine,
		subjects:   newSubjectIndex(subjects),
		injectChan: make(chan injectRequest),
		metrics:    metrics,
		logger:     observability.NewLogger("dispatcher"),
	}
}

// Dispatch hands one parsed message to the engine
func (d *Dispatcher) Dispatch(in Inbound) error {
	switch {
	case in.Event != nil:
		return d.engine.ApplyEvent(in.Event)
	case in.Flag != nil:
		_, err := d.engine.FlagPosition(in.Flag)
		return err
	case in.Liquidate != nil:
		_, err := d.engine.LiquidatePosition(in.Liquidate)
		return err
	default:
		return errors.New("empty inbound message")
	}
}

// Run consumes NATS messages and injected messages until ctx is cancelled
// or rawChan closes. A message is acked once the engine has seen it,
// whatever the outcome: invalid and rejected messages are not redelivered.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-d.injectChan:
			req.reply <- d.Dispatch(req.in)

		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.handleRaw(raw)
		}
	}
}

func (d *Dispatcher) handleRaw(raw RawMessage) {
	defer raw.AckFunc()

	kind := d.subjects.resolve(raw.Subject)
	if kind == "" {
		d.logger.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
		return
	}

	in, err := ParseRawMessage(raw, kind)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse failed")
		return
	}

	if err := d.Dispatch(in); err != nil {
		level := zerolog.ErrorLevel
		if in.Event == nil {
			// Keeper commands fail routinely: races between keepers,
			// recovered positions, exhausted capacity.
			level = zerolog.WarnLevel
		}
		d.logger.WithLevel(level).
			Err(err).
			Str("kind", in.Kind()).
			Str("reason", core.RejectReason(err)).
			Msg("message rejected")
		return
	}

	if d.metrics != nil {
		d.metrics.IngestToApply.WithLabelValues(in.Kind()).Observe(time.Since(raw.ReceivedAt).Seconds())
	}
}
