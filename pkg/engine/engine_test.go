package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/event"
	"github.com/bosworks/bos/core/pkg/featureflag"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/projection"
	"github.com/bosworks/bos/core/pkg/tenancy"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func fixture(t *testing.T) (*Service, *event.MemoryLog, *event.TypeRegistry) {
	t.Helper()
	registry := event.NewTypeRegistry()
	require.NoError(t, registry.Register("cash.session.opened.v1"))
	log := event.NewMemoryLog()
	svc := NewService("cash",
		event.NewFactory(kernel.NewFixedClock(t0), kernel.NewSequenceIDProvider("ev-1", "ev-2")),
		event.NewEmitter(registry, log), nil)
	return svc, log, registry
}

func mkCommand(t *testing.T, id string) *command.Command {
	t.Helper()
	cmd, err := command.New(command.Params{
		ID:            id,
		CommandType:   "cash.session.open.request",
		BusinessID:    "t1",
		BranchID:      "b1",
		ActorKind:     tenancy.ActorHuman,
		ActorID:       "u-1",
		IssuedAt:      t0,
		CorrelationID: "corr-1",
		SourceEngine:  "cash",
		ScopeReq:      tenancy.BranchRequired,
		ActorReq:      tenancy.ActorRequired,
	})
	require.NoError(t, err)
	return cmd
}

func TestEmitPersistsThenProjects(t *testing.T) {
	svc, log, _ := fixture(t)
	proj := projection.NewBase()
	var opened int
	proj.Register("cash.session.opened.v1", func(p map[string]any) { opened++ })

	hr, err := svc.Emit(context.Background(), mkCommand(t, "cmd-1"),
		"cash.session.opened.v1", map[string]any{"opening_float": int64(50000)},
		proj, map[string]any{"session_id": "s1"})
	require.NoError(t, err)

	assert.True(t, hr.Persist.Accepted)
	assert.True(t, hr.ProjectionApplied)
	assert.Equal(t, 1, opened)
	assert.Equal(t, uint64(1), hr.Persist.Sequence)
	require.NotNil(t, hr.Event)
	assert.Equal(t, "t1", hr.Event.TenantID)
	assert.Equal(t, 1, log.Len())
}

func TestEmitDuplicateRefusedWithoutProjection(t *testing.T) {
	svc, _, _ := fixture(t)
	proj := projection.NewBase()
	var folds int
	proj.Register("cash.session.opened.v1", func(p map[string]any) { folds++ })

	// The id provider wraps after two ids, so the third emit replays ev-1.
	ctx := context.Background()
	for _, id := range []string{"cmd-1", "cmd-2"} {
		_, err := svc.Emit(ctx, mkCommand(t, id), "cash.session.opened.v1",
			map[string]any{}, proj, nil)
		require.NoError(t, err)
	}
	hr, err := svc.Emit(ctx, mkCommand(t, "cmd-3"), "cash.session.opened.v1",
		map[string]any{}, proj, nil)
	require.NoError(t, err)

	assert.False(t, hr.Persist.Accepted)
	require.NotNil(t, hr.Persist.Rejection)
	assert.False(t, hr.ProjectionApplied)
	assert.Equal(t, 2, folds)
}

func TestEmitUnregisteredTypeIsError(t *testing.T) {
	svc, _, _ := fixture(t)
	_, err := svc.Emit(context.Background(), mkCommand(t, "cmd-1"),
		"cash.session.closed.v1", map[string]any{}, nil, nil)
	assert.Error(t, err)
}

type fakeEngine struct {
	desc       Descriptor
	registered bool
}

func (f *fakeEngine) Describe() Descriptor { return f.desc }
func (f *fakeEngine) Register(reg *Registration) error {
	f.registered = true
	return reg.Bus.RegisterHandler(f.desc.CommandTypes[0],
		func(ctx context.Context, cmd *command.Command) (command.HandlerResult, error) {
			return command.HandlerResult{}, nil
		})
}

func TestInstallWiresDescriptor(t *testing.T) {
	registry := event.NewTypeRegistry()
	log := event.NewMemoryLog()
	bus := command.NewBus(
		event.NewFactory(kernel.NewFixedClock(t0), kernel.UUIDProvider{}),
		event.NewEmitter(registry, log))
	keys := featureflag.NewKeyRegistry()

	eng := &fakeEngine{desc: Descriptor{
		Name:         "cash",
		FlagKey:      "ENABLE_CASH_ENGINE",
		CommandTypes: []string{"cash.session.open.request"},
		EventTypes:   []string{"cash.session.opened.v1"},
	}}

	reg := &Registration{Bus: bus, Registry: registry, FlagKeys: keys}
	require.NoError(t, Install(reg, eng))

	assert.True(t, eng.registered)
	assert.True(t, registry.Contains("cash.session.opened.v1"))
	key, ok := keys.KeyFor("cash.session.open.request")
	require.True(t, ok)
	assert.Equal(t, "ENABLE_CASH_ENGINE", key)
}
