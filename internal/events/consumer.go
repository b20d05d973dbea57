package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
	"github.com/tokenmeter/tokenmeter/internal/metrics"
	inats "github.com/tokenmeter/tokenmeter/internal/nats"
)

const consumerName = "usage-event-ingester"

// Consumer listens on the usage event NATS subject and appends entries to the event log.
type Consumer struct {
	svc         *Service
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new usage event Consumer.
func NewConsumer(svc *Service, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		svc:         svc,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectUsageEvent)
	if err != nil {
		return err
	}

	slog.Info("usage event consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("usage event consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// ackAction is what the consumer does with a message after processing it.
type ackAction int

const (
	actionAck ackAction = iota
	actionNak
	actionTerm
)

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	switch c.process(ctx, msg.Data()) {
	case actionAck:
		_ = msg.Ack()
		metrics.ConsumerMessagesTotal.WithLabelValues("ack").Inc()
	case actionNak:
		_ = msg.Nak()
		metrics.ConsumerMessagesTotal.WithLabelValues("nak").Inc()
	case actionTerm:
		_ = msg.Term()
		metrics.ConsumerMessagesTotal.WithLabelValues("term").Inc()
	}
}

// process appends one payload. Store failures are redelivered; payloads that can
// never be stored are terminated.
func (c *Consumer) process(ctx context.Context, data []byte) ackAction {
	var msg inats.UsageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("usage event consumer: unmarshaling event", "error", err)
		return actionTerm
	}

	e, err := c.svc.Append(ctx, messageToRequest(msg), SourceNATS)
	if err != nil {
		if apperr.Is(err, apperr.KindValidation) {
			slog.Error("usage event consumer: rejecting event", "error", err, "user_id", msg.UserID)
			return actionTerm
		}
		slog.Error("usage event consumer: appending event", "error", err, "user_id", msg.UserID)
		return actionNak
	}

	slog.Debug("usage event consumer: appended event", "event_id", e.ID, "user_id", e.UserID)
	return actionAck
}

func messageToRequest(msg inats.UsageMessage) AppendRequest {
	req := AppendRequest{
		UserID:         msg.UserID,
		Model:          msg.Model,
		InputTokens:    msg.InputTokens,
		OutputTokens:   msg.OutputTokens,
		ResponseCode:   msg.ResponseCode,
		AdditionalInfo: msg.AdditionalInfo,
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp
		req.Timestamp = &ts
	}
	return req
}
