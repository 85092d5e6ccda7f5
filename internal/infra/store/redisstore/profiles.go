// Package redisstore shares entity profiles between engine replicas through Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "risk:profile:"

// ProfileStore keeps one JSON document per entity.
type ProfileStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProfileStore creates a store; ttl 0 keeps profiles forever.
func NewProfileStore(rdb *redis.Client, ttl time.Duration) *ProfileStore {
	return &ProfileStore{rdb: rdb, ttl: ttl}
}

// NewClient connects and pings.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return rdb, nil
}

// Ping checks the Redis connection.
func (s *ProfileStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *ProfileStore) GetProfile(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+entityID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: entityID}
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	p := domain.NewEntityProfile(entityID)
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", entityID, err)
	}
	return p, nil
}

func (s *ProfileStore) SaveProfile(ctx context.Context, p *domain.EntityProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+p.EntityID, raw, s.ttl).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return nil
}
