package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/reject"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

var testClock = kernel.NewFixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

func testInfo() CommandInfo {
	return CommandInfo{
		CommandID:     "cmd-1",
		TenantID:      "t1",
		BranchID:      "b1",
		CorrelationID: "corr-1",
		ActorID:       "u-1",
		ActorKind:     tenancy.ActorHuman,
	}
}

func TestValidateEventType(t *testing.T) {
	assert.NoError(t, ValidateEventType("inventory.stock.received.v1"))
	assert.NoError(t, ValidateEventType("cash.session.opened.v12"))
	assert.NoError(t, ValidateEventType("inventory.stock.receive.rejected"))

	assert.Error(t, ValidateEventType("inventory.stock.v1"), "too few segments")
	assert.Error(t, ValidateEventType("Inventory.stock.received.v1"), "uppercase")
	assert.Error(t, ValidateEventType("inventory.stock.received.v0"), "versions start at 1")
	assert.Error(t, ValidateEventType("inventory.stock.received.version1"))
	assert.Error(t, ValidateEventType("inventory..received.v1"), "empty segment")
}

func TestRejectedEventType(t *testing.T) {
	assert.Equal(t, "inventory.stock.receive.rejected",
		RejectedEventType("inventory.stock.receive.request"))
	assert.Equal(t, "cash.session.open.rejected",
		RejectedEventType("cash.session.open.request"))
}

func TestFactoryBuild(t *testing.T) {
	f := NewFactory(testClock, kernel.NewSequenceIDProvider("ev-1"))

	env, err := f.Build("inventory.stock.received.v1", testInfo(), map[string]any{"qty": 20})
	require.NoError(t, err)

	assert.Equal(t, "ev-1", env.EventID)
	assert.Equal(t, "t1", env.TenantID)
	assert.Equal(t, "b1", env.BranchID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "cmd-1", env.CommandID)
	assert.Equal(t, tenancy.ActorHuman, env.ActorKind)
	assert.Equal(t, testClock.Now(), env.OccurredAt)
	assert.Equal(t, 20, env.Payload["qty"])
}

func TestFactoryCopiesPayload(t *testing.T) {
	f := NewFactory(testClock, kernel.UUIDProvider{})
	src := map[string]any{"nested": map[string]any{"a": 1}, "list": []any{1, 2}}

	env, err := f.Build("inventory.stock.received.v1", testInfo(), src)
	require.NoError(t, err)

	src["nested"].(map[string]any)["a"] = 99
	src["list"].([]any)[0] = 99

	assert.Equal(t, 1, env.Payload["nested"].(map[string]any)["a"])
	assert.Equal(t, 1, env.Payload["list"].([]any)[0])
}

func TestFactoryRejectsBadType(t *testing.T) {
	f := NewFactory(testClock, kernel.UUIDProvider{})
	_, err := f.Build("not-an-event-type", testInfo(), nil)
	assert.Error(t, err)
}

func TestTypeRegistry(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Register("cash.session.opened.v1", "cash.session.closed.v1"))

	assert.True(t, r.Contains("cash.session.opened.v1"))
	assert.False(t, r.Contains("cash.session.suspended.v1"))
	assert.Error(t, r.Register("BAD"))
	assert.Len(t, r.All(), 2)
}

func TestMemoryLogAppendAndChain(t *testing.T) {
	f := NewFactory(testClock, kernel.NewSequenceIDProvider("ev-1", "ev-2"))
	log := NewMemoryLog()

	env1, _ := f.Build("cash.session.opened.v1", testInfo(), map[string]any{"n": 1})
	env2, _ := f.Build("cash.payment.recorded.v1", testInfo(), map[string]any{"n": 2})

	res1, err := log.Persist(context.Background(), env1)
	require.NoError(t, err)
	assert.True(t, res1.Accepted)
	assert.Equal(t, uint64(1), res1.Sequence)
	assert.NotEmpty(t, res1.ChainHash)

	res2, err := log.Persist(context.Background(), env2)
	require.NoError(t, err)
	assert.NotEqual(t, res1.ChainHash, res2.ChainHash)

	events := log.EventsForTenant("t1")
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].EventID)

	ok, err := log.VerifyChain("t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, res2.ChainHash, log.ChainHead("t1"))
}

func TestMemoryLogRefusesDuplicateEventID(t *testing.T) {
	f := NewFactory(testClock, kernel.NewSequenceIDProvider("ev-1"))
	log := NewMemoryLog()

	env, _ := f.Build("cash.session.opened.v1", testInfo(), nil)
	_, err := log.Persist(context.Background(), env)
	require.NoError(t, err)

	res, err := log.Persist(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, reject.CodeDuplicateRequest, res.Rejection.Code)

	assert.Equal(t, 1, log.Len())
}

func TestEmitterEnforcesRegistry(t *testing.T) {
	reg := NewTypeRegistry()
	require.NoError(t, reg.Register("cash.session.opened.v1"))
	em := NewEmitter(reg, NewMemoryLog())

	f := NewFactory(testClock, kernel.UUIDProvider{})
	known, _ := f.Build("cash.session.opened.v1", testInfo(), nil)
	unknown, _ := f.Build("cash.session.reopened.v1", testInfo(), nil)

	res, err := em.Emit(context.Background(), known)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	_, err = em.Emit(context.Background(), unknown)
	assert.Error(t, err, "unregistered type is a programmer error")
}

func TestSubscriberRegistryNotify(t *testing.T) {
	r := NewSubscriberRegistry()
	var got []string
	require.NoError(t, r.Subscribe("retail.sale.completed.v1", func(ctx context.Context, env Envelope) error {
		got = append(got, "first:"+env.EventID)
		return nil
	}))
	require.NoError(t, r.Subscribe("retail.sale.completed.v1", func(ctx context.Context, env Envelope) error {
		got = append(got, "second:"+env.EventID)
		return nil
	}))

	err := r.Notify(context.Background(), Envelope{EventType: "retail.sale.completed.v1", EventID: "ev-9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first:ev-9", "second:ev-9"}, got)

	// No handlers is a no-op.
	assert.NoError(t, r.Notify(context.Background(), Envelope{EventType: "other.event.happened.v1"}))
}
