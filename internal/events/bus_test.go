package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmit_PrepareVetoSkipsApply(t *testing.T) {
	bus := NewBus(zap.NewNop())
	veto := errors.New("blocked")
	bus.Subscribe(PhasePrepare, "guard", func(context.Context, MetadataChanged) error { return veto })

	committed := 0
	bus.Subscribe(PhaseCommitted, "observer", func(context.Context, MetadataChanged) error {
		committed++
		return nil
	})

	applied := false
	err := bus.Emit(context.Background(), MetadataChanged{TenantID: "t1", EntityKind: KindConcept}, func() error {
		applied = true
		return nil
	})
	require.ErrorIs(t, err, veto)
	assert.False(t, applied)
	assert.Zero(t, committed)
}

func TestEmit_CommittedErrorsAreSwallowed(t *testing.T) {
	bus := NewBus(nil)
	var phases []Phase
	bus.Subscribe(PhasePrepare, "guard", func(_ context.Context, e MetadataChanged) error {
		phases = append(phases, e.Phase)
		return nil
	})
	bus.Subscribe(PhaseCommitted, "broken", func(_ context.Context, e MetadataChanged) error {
		phases = append(phases, e.Phase)
		return errors.New("cache down")
	})
	bus.Subscribe(PhaseCommitted, "after-broken", func(_ context.Context, e MetadataChanged) error {
		phases = append(phases, e.Phase)
		assert.False(t, e.OccurredAt.IsZero())
		return nil
	})

	err := bus.Emit(context.Background(), MetadataChanged{EntityKind: KindAlias, ChangeType: ChangeDeleted}, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhasePrepare, PhaseCommitted, PhaseCommitted}, phases)
}

func TestEmit_ApplyErrorStopsCommit(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.Subscribe(PhaseCommitted, "observer", func(context.Context, MetadataChanged) error {
		called = true
		return nil
	})
	boom := errors.New("insert failed")
	err := bus.Emit(context.Background(), MetadataChanged{}, func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestPublish_NilBus(t *testing.T) {
	var bus *Bus
	require.NoError(t, bus.Publish(context.Background(), MetadataChanged{}))
}
