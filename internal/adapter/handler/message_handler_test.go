package handler

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/adapter/broker"
	"github.com/rl1809/inventory-service/internal/adapter/broker/brokertest"
	"github.com/rl1809/inventory-service/internal/adapter/upcast"
	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/port"
)

// memoryClaims is an in-memory IdempotencyStore
type memoryClaims struct {
	mu         sync.Mutex
	claimed    map[string]port.ClaimStatus
	released   []string
	err        error
	releaseErr error
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{claimed: map[string]port.ClaimStatus{}}
}

func (m *memoryClaims) Claim(_ context.Context, key string) (port.ClaimStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return port.ClaimHeld, m.err
	}
	if status, ok := m.claimed[key]; ok {
		return status, nil
	}
	m.claimed[key] = port.ClaimHeld
	return port.ClaimAcquired, nil
}

func (m *memoryClaims) Complete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimed[key] = port.ClaimDone
	return nil
}

func (m *memoryClaims) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	delete(m.claimed, key)
	m.released = append(m.released, key)
	return nil
}

// expire drops a claim the way the store's lease would.
func (m *memoryClaims) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[key] == port.ClaimHeld {
		delete(m.claimed, key)
	}
}

func delivery(id, body string) amqp.Delivery {
	return amqp.Delivery{MessageId: id, Body: []byte(body)}
}

func TestMessageHandler_Dispatch(t *testing.T) {
	tests := []struct {
		name string
		body string
		want call
	}{
		{"legacy payload replenishes", `{"sku":"ABC-1234-AB","quantity":5}`, call{"replenish", "ABC-1234-AB", 5}},
		{"v1 reserve", `{"type":"order.reserve","version":1,"sku":"ABC-1234-AB","quantity":2}`, call{"reserve", "ABC-1234-AB", 2}},
		{"v2 release", `{"type":"product.inventory.released","version":2,"sku":"ABC-1234-AB","quantity":1,"priority":"high"}`, call{"release", "ABC-1234-AB", 1}},
		{"explicit replenish", `{"type":"order.replenish","version":2,"sku":"ABC-1234-AB","quantity":3,"priority":"low"}`, call{"replenish", "ABC-1234-AB", 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands := newFakeCommands()
			commands.stock["ABC-1234-AB"] = 10
			h := NewMessageHandler(upcast.New(), commands, newMemoryClaims(), zap.NewNop())

			require.NoError(t, h.Handle(context.Background(), delivery("m-1", tt.body)))
			assert.Equal(t, []call{tt.want}, commands.Calls())
		})
	}
}

func TestMessageHandler_DuplicateSkipped(t *testing.T) {
	commands := newFakeCommands()
	commands.stock["ABC-1234-AB"] = 0
	h := NewMessageHandler(upcast.New(), commands, newMemoryClaims(), zap.NewNop())

	d := delivery("m-1", `{"sku":"ABC-1234-AB","quantity":5}`)
	require.NoError(t, h.Handle(context.Background(), d))
	require.NoError(t, h.Handle(context.Background(), d))

	assert.Len(t, commands.Calls(), 1)
	assert.Equal(t, 5, commands.stock["ABC-1234-AB"])
}

func TestMessageHandler_FailureReleasesClaim(t *testing.T) {
	commands := newFakeCommands()
	claims := newMemoryClaims()
	h := NewMessageHandler(upcast.New(), commands, claims, zap.NewNop())

	d := delivery("m-1", `{"type":"reserve","sku":"ABC-1234-AB","quantity":5}`)
	err := h.Handle(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"m-1"}, claims.released)

	// the retry is processed, not treated as a duplicate
	commands.stock["ABC-1234-AB"] = 10
	require.NoError(t, h.Handle(context.Background(), d))
	assert.Equal(t, 5, commands.stock["ABC-1234-AB"])
}

func TestMessageHandler_ReleaseFailureKeepsMessage(t *testing.T) {
	commands := newFakeCommands()
	claims := newMemoryClaims()
	claims.releaseErr = errors.New("redis blip")
	h := NewMessageHandler(upcast.New(), commands, claims, zap.NewNop())

	d := delivery("m-1", `{"type":"reserve","sku":"ABC-1234-AB","quantity":5}`)
	err := h.Handle(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the stale claim sends the retry back to the queue instead of acking it as a duplicate
	commands.stock["ABC-1234-AB"] = 10
	err = h.Handle(context.Background(), d)
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrRequeue)
	assert.Len(t, commands.Calls(), 1)

	claims.expire("m-1")
	require.NoError(t, h.Handle(context.Background(), d))
	assert.Equal(t, 5, commands.stock["ABC-1234-AB"])
}

func TestMessageHandler_RetryThroughConsumer(t *testing.T) {
	commands := newFakeCommands()
	claims := newMemoryClaims()
	claims.releaseErr = errors.New("redis blip")
	h := NewMessageHandler(upcast.New(), commands, claims, zap.NewNop())
	consumer := broker.NewRetryConsumer(nil, "work", "test", broker.RetryPolicy{MaxRetries: 3}, h, zap.NewNop())

	ch := brokertest.NewChannel()
	ack := &brokertest.Acknowledger{}
	d := delivery("m-1", `{"type":"reserve","sku":"ABC-1234-AB","quantity":5}`)
	d.Acknowledger = ack
	d.DeliveryTag = 1
	assert.Equal(t, broker.DecisionRetry, consumer.Process(context.Background(), ch, d))

	commands.stock["ABC-1234-AB"] = 10
	published := ch.Published()
	require.Len(t, published, 1)
	retry := amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Headers: published[0].Msg.Headers, MessageId: "m-1", Body: published[0].Msg.Body}
	assert.Equal(t, broker.DecisionRequeue, consumer.Process(context.Background(), ch, retry))

	acks, nacks := ack.Snapshot()
	assert.Equal(t, []uint64{1}, acks)
	assert.Equal(t, []brokertest.Nack{{Tag: 2, Requeue: true}}, nacks)
	assert.Equal(t, 10, commands.stock["ABC-1234-AB"])
}

func TestMessageHandler_UnknownVersion(t *testing.T) {
	commands := newFakeCommands()
	claims := newMemoryClaims()
	h := NewMessageHandler(upcast.New(), commands, claims, zap.NewNop())

	err := h.Handle(context.Background(), delivery("m-1", `{"version":9,"sku":"ABC-1234-AB","quantity":1}`))
	assert.ErrorIs(t, err, domain.ErrUnknownSchemaVersion)
	assert.Empty(t, commands.Calls())
	assert.Empty(t, claims.claimed)
}

func TestMessageHandler_ClaimError(t *testing.T) {
	commands := newFakeCommands()
	claims := newMemoryClaims()
	claims.err = errors.New("redis down")
	h := NewMessageHandler(upcast.New(), commands, claims, zap.NewNop())

	err := h.Handle(context.Background(), delivery("m-1", `{"sku":"ABC-1234-AB","quantity":1}`))
	assert.ErrorIs(t, err, claims.err)
	assert.Empty(t, commands.Calls())
}

func TestMessageHandler_NoMessageID(t *testing.T) {
	commands := newFakeCommands()
	commands.stock["ABC-1234-AB"] = 0
	h := NewMessageHandler(upcast.New(), commands, nil, zap.NewNop())

	d := delivery("", `{"sku":"ABC-1234-AB","quantity":1}`)
	require.NoError(t, h.Handle(context.Background(), d))
	require.NoError(t, h.Handle(context.Background(), d))
	assert.Equal(t, 2, commands.stock["ABC-1234-AB"])
}

func TestActionOf(t *testing.T) {
	assert.Equal(t, actionReserve, actionOf("reserve"))
	assert.Equal(t, actionReserve, actionOf("product.inventory.RESERVED"))
	assert.Equal(t, actionRelease, actionOf("order.release"))
	assert.Equal(t, actionReplenish, actionOf(""))
	assert.Equal(t, actionReplenish, actionOf("order.created"))
}
