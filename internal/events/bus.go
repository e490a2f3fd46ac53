// Package events carries metadata.changed notifications from writers to the
// components that react to them (rule evaluation, cache invalidation, metrics).
//
// Every mutation is published twice. PhasePrepare runs before the write is
// applied; handlers run synchronously in subscription order and the first error
// aborts the write. PhaseCommitted runs after the write; handler errors are
// logged and never reach the writer.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const TopicMetadataChanged = "metadata.changed"

type Phase string

const (
	PhasePrepare   Phase = "prepare"
	PhaseCommitted Phase = "committed"
)

type ChangeType string

const (
	ChangeCreated     ChangeType = "CREATED"
	ChangeUpdated     ChangeType = "UPDATED"
	ChangeDeactivated ChangeType = "DEACTIVATED"
	ChangeDeleted     ChangeType = "DELETED"
)

type EntityKind string

const (
	KindConcept        EntityKind = "concept"
	KindAlias          EntityKind = "alias"
	KindLineageEntity  EntityKind = "lineage_entity"
	KindLineageEdge    EntityKind = "lineage_edge"
	KindStandardPack   EntityKind = "standard_pack"
	KindGovernanceRule EntityKind = "rule"
)

// MetadataChanged is the payload of TopicMetadataChanged. Subject holds the
// entity as it will be (prepare) or is (committed) after the change; its
// concrete type depends on EntityKind.
type MetadataChanged struct {
	Phase         Phase
	TenantID      string
	EntityID      string
	EntityKind    EntityKind
	ChangeType    ChangeType
	ChangedFields []string
	Subject       any
	OccurredAt    time.Time
}

type Handler func(ctx context.Context, evt MetadataChanged) error

type subscription struct {
	name    string
	handler Handler
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[Phase][]subscription
	logger *zap.Logger
	now    func() time.Time
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Phase][]subscription),
		logger: logger,
		now:    time.Now,
	}
}

func (b *Bus) Subscribe(phase Phase, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[phase] = append(b.subs[phase], subscription{name: name, handler: h})
}

// Publish delivers evt to the subscribers of evt.Phase.
func (b *Bus) Publish(ctx context.Context, evt MetadataChanged) error {
	if b == nil {
		return nil
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = b.now()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[evt.Phase]...)
	b.mu.RUnlock()

	for _, s := range subs {
		err := s.handler(ctx, evt)
		if err == nil {
			continue
		}
		if evt.Phase == PhasePrepare {
			return err
		}
		b.logger.Warn("metadata.changed subscriber failed",
			zap.String("subscriber", s.name),
			zap.String("tenant_id", evt.TenantID),
			zap.String("entity_kind", string(evt.EntityKind)),
			zap.String("entity_id", evt.EntityID),
			zap.String("change_type", string(evt.ChangeType)),
			zap.Error(err),
		)
	}
	return nil
}

// Emit publishes the prepare phase, runs apply, then publishes the committed
// phase. Nothing is applied when a prepare handler fails.
func (b *Bus) Emit(ctx context.Context, evt MetadataChanged, apply func() error) error {
	evt.Phase = PhasePrepare
	if err := b.Publish(ctx, evt); err != nil {
		return err
	}
	if err := apply(); err != nil {
		return err
	}
	evt.Phase = PhaseCommitted
	evt.OccurredAt = time.Time{}
	return b.Publish(ctx, evt)
}
