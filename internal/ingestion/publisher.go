package ingestion

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/observability"
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const outboundStream = "PERP_LIQUIDATOR_EVENTS"

// Publisher is the subset of jetstream.JetStream the outbound path needs
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes persisted outputs to NATS for downstream
// consumers. It is fed from the persistence commit hook, so nothing is
// published before it is durable.
type OutboundPublisher struct {
	js      Publisher
	input   chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is the outbound wire format
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	EventType      string              `json:"event_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	MarketID       *string             `json:"market_id,omitempty"`
	Payload        jsoniter.RawMessage `json:"payload"`
	StateHash      string              `json:"state_hash"`
	Timestamp      time.Time           `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, bufferSize int, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		input:   make(chan core.CoreOutput, bufferSize),
		metrics: metrics,
		logger:  observability.NewLogger("publisher"),
	}
}

// Enqueue queues committed outputs without blocking; outputs that do not
// fit are dropped and counted. Its signature matches persistence.CommitHook.
func (op *OutboundPublisher) Enqueue(_ context.Context, outputs []core.CoreOutput) {
	for _, out := range outputs {
		select {
		case op.input <- out:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-op.input:
			if err := op.publish(ctx, out); err != nil {
				// Downstream consumers can fall back to the event log
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Subject returns perp.liquidator.events.{event_type}[.{market_id}]
func Subject(out core.CoreOutput) string {
	subject := fmt.Sprintf("perp.liquidator.events.%s", out.Envelope.EventType)
	if out.Envelope.MarketID != nil {
		subject = fmt.Sprintf("%s.%s", subject, *out.Envelope.MarketID)
	}
	return subject
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	data, err := json.Marshal(PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      time.UnixMicro(env.Timestamp).UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The sequence as message id lets JetStream drop republished outputs
	_, err = op.js.Publish(ctx, Subject(out), data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{"perp.liquidator.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
