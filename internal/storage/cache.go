package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/segment"
)

// Backend is the persistence the SDK reads user state from and writes to.
type Backend interface {
	LoadActiveCampaigns(ctx context.Context) ([]segment.Campaign, error)
	LoadUserState(ctx context.Context, projectID, userID string) (segment.UserState, error)
	RecordEvent(ctx context.Context, projectID, userID, name string, at time.Time) error
	SetUserProperties(ctx context.Context, projectID, userID string, props map[string]any) error
	SetDeviceProperties(ctx context.Context, projectID, userID string, props map[string]any) error
}

// StateCache holds recently loaded user states keyed by (projectID, userID).
type StateCache interface {
	Get(ctx context.Context, projectID, userID string) (segment.UserState, bool, error)
	Set(ctx context.Context, projectID, userID string, state segment.UserState) error
	Invalidate(ctx context.Context, projectID, userID string) error
}

// CachedStore reads user state through a StateCache and invalidates it on
// every write for that user. Cache failures degrade to the backend.
type CachedStore struct {
	Backend
	cache StateCache
}

func NewCachedStore(b Backend, c StateCache) *CachedStore {
	return &CachedStore{Backend: b, cache: c}
}

func (s *CachedStore) LoadUserState(ctx context.Context, projectID, userID string) (segment.UserState, error) {
	state, ok, err := s.cache.Get(ctx, projectID, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state cache get")
	}
	if ok {
		return state, nil
	}

	state, err = s.Backend.LoadUserState(ctx, projectID, userID)
	if err != nil {
		return state, err
	}
	if err := s.cache.Set(ctx, projectID, userID, state); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state cache set")
	}
	return state, nil
}

func (s *CachedStore) RecordEvent(ctx context.Context, projectID, userID, name string, at time.Time) error {
	if err := s.Backend.RecordEvent(ctx, projectID, userID, name, at); err != nil {
		return err
	}
	s.invalidate(ctx, projectID, userID)
	return nil
}

func (s *CachedStore) SetUserProperties(ctx context.Context, projectID, userID string, props map[string]any) error {
	if err := s.Backend.SetUserProperties(ctx, projectID, userID, props); err != nil {
		return err
	}
	s.invalidate(ctx, projectID, userID)
	return nil
}

func (s *CachedStore) SetDeviceProperties(ctx context.Context, projectID, userID string, props map[string]any) error {
	if err := s.Backend.SetDeviceProperties(ctx, projectID, userID, props); err != nil {
		return err
	}
	s.invalidate(ctx, projectID, userID)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, projectID, userID string) {
	if err := s.cache.Invalidate(ctx, projectID, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state cache invalidate")
	}
}

// MemoryCache is a process-local StateCache used when no Redis is configured.
// Entries expire after the state TTL and the least recently used are evicted
// once maxEntries is reached.
type MemoryCache struct {
	states *expirable.LRU[string, segment.UserState]
}

func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{states: expirable.NewLRU[string, segment.UserState](maxEntries, nil, ttl)}
}

func (c *MemoryCache) Get(_ context.Context, projectID, userID string) (segment.UserState, bool, error) {
	s, ok := c.states.Get(stateKey(projectID, userID))
	return s, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, projectID, userID string, state segment.UserState) error {
	c.states.Add(stateKey(projectID, userID), state)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, projectID, userID string) error {
	c.states.Remove(stateKey(projectID, userID))
	return nil
}

// Len reports the number of cached states, expired ones included until purged.
func (c *MemoryCache) Len() int { return c.states.Len() }

func stateKey(projectID, userID string) string {
	return KeyPrefix + ":" + projectID + ":" + userID
}
