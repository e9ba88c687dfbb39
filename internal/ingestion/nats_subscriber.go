package ingestion

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/observability"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes the state feed and keeper commands from NATS
// JetStream and hands them to the dispatcher as RawMessages.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawMessage is a payload received from NATS, not yet parsed. The
// dispatcher acks it once it has been handed to the engine.
type RawMessage struct {
	Subject    string
	Data       []byte
	ReceivedAt time.Time
	AckFunc    func() // Call to ACK the NATS message after processing
	NakFunc    func() // Call to NAK on shutdown (will be redelivered)
}

// SubjectConfig maps a NATS subject to the kind of message it carries
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

// receiveClock stamps inbound messages; keeper commands take it as their time
var receiveClock = core.MonotonicClock()

const (
	feedStream    = "PERP_FEED"
	commandStream = "PERP_COMMANDS"
)

// DefaultSubjects returns one subject per input event type and keeper command
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.feed.markets.>", Kind: "MarketConfigured", ConsumerName: "liquidator-markets", StreamName: feedStream},
		{Subject: "perp.feed.prices.>", Kind: "PriceUpdated", ConsumerName: "liquidator-prices", StreamName: feedStream},
		{Subject: "perp.feed.margin.>", Kind: "MarginDeposited", ConsumerName: "liquidator-margin", StreamName: feedStream},
		{Subject: "perp.feed.orders.committed.>", Kind: "OrderCommitted", ConsumerName: "liquidator-orders-committed", StreamName: feedStream},
		{Subject: "perp.feed.orders.settled.>", Kind: "OrderSettled", ConsumerName: "liquidator-orders-settled", StreamName: feedStream},
		{Subject: "perp.feed.feetiers.set.>", Kind: "FeeTierSet", ConsumerName: "liquidator-feetiers-set", StreamName: feedStream},
		{Subject: "perp.feed.feetiers.assigned.>", Kind: "FeeTierAssigned", ConsumerName: "liquidator-feetiers-assigned", StreamName: feedStream},
		{Subject: "perp.feed.keepers.>", Kind: "KeeperEndorsementUpdated", ConsumerName: "liquidator-keepers", StreamName: feedStream},
		{Subject: "perp.commands.flag.>", Kind: KindFlagPosition, ConsumerName: "liquidator-cmd-flag", StreamName: commandStream},
		{Subject: "perp.commands.liquidate.>", Kind: KindLiquidatePosition, ConsumerName: "liquidator-cmd-liquidate", StreamName: commandStream},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawMessage) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  observability.NewLogger("nats"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawMessage{
				Subject:    msg.Subject(),
				Data:       msg.Data(),
				ReceivedAt: receiveClock(),
				AckFunc:    func() { _ = msg.Ack() },
				NakFunc:    func() { _ = msg.Nak() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the feed and command streams if they don't exist.
// Commands are kept for a shorter time than the feed: a stale flag or
// liquidate request has no value after a restart.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      feedStream,
			Subjects:  []string{"perp.feed.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      commandStream,
			Subjects:  []string{"perp.commands.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    time.Hour,
			Replicas:  1,
		},
	}

	logger := observability.NewLogger("nats")
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url, name string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

// subjectIndex resolves a concrete subject to its kind by longest prefix
type subjectIndex map[string]string

func newSubjectIndex(subjects []SubjectConfig) subjectIndex {
	idx := make(subjectIndex, len(subjects))
	for _, cfg := range subjects {
		idx[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.Kind
	}
	return idx
}

func (idx subjectIndex) resolve(subject string) string {
	bestMatch := ""
	bestKind := ""
	for prefix, kind := range idx {
		if (subject == prefix || strings.HasPrefix(subject, prefix+".")) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestKind = kind
		}
	}
	return bestKind
}
