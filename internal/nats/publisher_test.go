package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJS struct {
	jetstream.JetStream
	subject string
	payload []byte
	opts    []jetstream.PublishOpt
	err     error
}

func (r *recordingJS) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.opts = opts
	r.subject = subject
	r.payload = payload
	if r.err != nil {
		return nil, r.err
	}
	return &jetstream.PubAck{Stream: StreamEvents, Sequence: 1}, nil
}

func TestPublisher_PublishUsage(t *testing.T) {
	js := &recordingJS{}
	p := NewPublisher(js)

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	err := p.PublishUsage(context.Background(), UsageMessage{
		UserID: "alice", Model: "gpt-4", InputTokens: 12, OutputTokens: 3, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.Equal(t, SubjectUsageEvent, js.subject)

	var got UsageMessage
	require.NoError(t, json.Unmarshal(js.payload, &got))
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, int64(12), got.InputTokens)
	assert.True(t, got.Timestamp.Equal(ts))
}

func TestPublisher_PublishQuotaViolation(t *testing.T) {
	js := &recordingJS{}
	p := NewPublisher(js)

	require.NoError(t, p.PublishQuotaViolation(context.Background(), QuotaViolation{
		UserID: "alice", PlanID: "free", Metric: "input_tokens", Current: 1001, Limit: 1000,
	}))
	assert.Equal(t, SubjectQuotaViolation, js.subject)
	assert.Contains(t, string(js.payload), `"metric":"input_tokens"`)
}

func TestPublisher_Error(t *testing.T) {
	p := NewPublisher(&recordingJS{err: errors.New("no responders")})

	err := p.PublishUsage(context.Background(), UsageMessage{UserID: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectUsageEvent)
}

func TestUsageStream_CoversSubjects(t *testing.T) {
	cfg := usageStream()
	assert.Equal(t, StreamEvents, cfg.Name)
	assert.ElementsMatch(t, []string{SubjectUsageEvent, SubjectQuotaViolation}, cfg.Subjects)
}

func TestPublisher_PublishUsageSetsMsgID(t *testing.T) {
	js := &recordingJS{}
	p := NewPublisher(js)

	require.NoError(t, p.PublishUsage(context.Background(), UsageMessage{MessageID: "evt-1", UserID: "alice"}))
	assert.Len(t, js.opts, 1)

	require.NoError(t, p.PublishUsage(context.Background(), UsageMessage{UserID: "alice"}))
	assert.Empty(t, js.opts)
}

func TestUsageStream_DedupeWindow(t *testing.T) {
	assert.Positive(t, usageStream().Duplicates)
}
