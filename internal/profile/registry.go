package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
	"github.com/boddenberg/txn-risk-engine/internal/port"

	"go.uber.org/zap"
)

// Registry serializes profile mutations per entity. Readers get a deep-copied
// snapshot taken under the entity's read lock, so an analysis never observes
// a half-applied rebuild or feedback update. Different entities never contend.
type Registry struct {
	store   port.ProfileStore
	builder *Builder
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewRegistry creates a registry over store.
func NewRegistry(store port.ProfileStore, builder *Builder, logger *zap.Logger) *Registry {
	return &Registry{
		store:   store,
		builder: builder,
		logger:  logger,
		locks:   make(map[string]*sync.RWMutex),
	}
}

func (r *Registry) lockFor(entityID string) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[entityID]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[entityID] = l
	}
	return l
}

// Snapshot returns a consistent copy of the entity's profile. A missing profile
// yields an empty one rather than an error.
func (r *Registry) Snapshot(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	l := r.lockFor(entityID)
	l.RLock()
	defer l.RUnlock()

	p, err := r.load(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Update applies fn to a copy of the profile under the entity's write lock and
// persists the result with an incremented version.
func (r *Registry) Update(ctx context.Context, entityID string, fn func(p *domain.EntityProfile) error) (*domain.EntityProfile, error) {
	l := r.lockFor(entityID)
	l.Lock()
	defer l.Unlock()

	current, err := r.load(ctx, entityID)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1

	if err := r.store.SaveProfile(ctx, next); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	r.logger.Debug("profile updated",
		zap.String("entity_id", entityID),
		zap.Int64("version", next.Version),
	)
	return next.Clone(), nil
}

// Rebuild recomputes the derived statistics from window, keeping overlays.
func (r *Registry) Rebuild(ctx context.Context, entityID string, window domain.HistoricalWindow) (*domain.EntityProfile, error) {
	return r.Update(ctx, entityID, func(p *domain.EntityProfile) error {
		*p = *r.builder.Build(entityID, window, p)
		return nil
	})
}

// Builder exposes the builder used for rebuilds.
func (r *Registry) Builder() *Builder {
	return r.builder
}

func (r *Registry) load(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	p, err := r.store.GetProfile(ctx, entityID)
	if err != nil {
		var nf *domain.ErrNotFound
		if errors.As(err, &nf) {
			return domain.NewEntityProfile(entityID), nil
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}
