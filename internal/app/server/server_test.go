package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-sdk/internal/config"
	"campaign-sdk/internal/engine"
	"campaign-sdk/internal/sdk"
	"campaign-sdk/internal/segment"
	"campaign-sdk/internal/session"
	"campaign-sdk/internal/storage"
)

type MockStore struct {
	campaigns []segment.Campaign
	err       error
}

func (m *MockStore) LoadActiveCampaigns(context.Context) ([]segment.Campaign, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.campaigns, nil
}

func (m *MockStore) LoadUserState(context.Context, string, string) (segment.UserState, error) {
	return segment.UserState{}, nil
}

func (m *MockStore) RecordEvent(context.Context, string, string, string, time.Time) error { return nil }

func (m *MockStore) SetUserProperties(context.Context, string, string, map[string]any) error {
	return nil
}

func (m *MockStore) SetDeviceProperties(context.Context, string, string, map[string]any) error {
	return nil
}

func TestInitWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		final     error
		wantCalls int
	}{
		{"first attempt succeeds", 0, nil, 1},
		{"succeeds after failures", 2, nil, 3},
		{"already initialized counts as success", 0, session.ErrAlreadyInitialized, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			init := func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("backend down")
				}
				return tt.final
			}
			require.NoError(t, initWithRetry(context.Background(), init, time.Millisecond))
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestInitWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := initWithRetry(ctx, func(context.Context) error { return errors.New("backend down") }, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInitWithRetry_ReleasesQueuedCalls(t *testing.T) {
	store := &MockStore{err: errors.New("backend down")}
	client := sdk.New("proj", store, engine.NewEngine(nil), session.NewCoordinator())

	done := make(chan error, 1)
	go func() {
		_, err := client.Evaluate(context.Background(), "u1", "")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(client.Coordinator().Pending()) == 1 }, time.Second, 5*time.Millisecond)

	init := func(ctx context.Context) error {
		err := client.Init(ctx)
		store.err = nil // recover after the first failure
		return err
	}
	require.NoError(t, initWithRetry(context.Background(), init, time.Millisecond))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued call not released")
	}
	assert.Equal(t, session.StateReady, client.State())
}

func TestNewHandler_Routes(t *testing.T) {
	var cfg config.Config
	cfg.Server.RequestTimeout = 100
	cfg.RateLimit.RPS = 100
	cfg.RateLimit.Burst = 100

	client := sdk.New("proj", &MockStore{}, engine.NewEngine(nil), session.NewCoordinator())
	require.NoError(t, client.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewServer(newHandler(ctx, cfg, client))
	defer ts.Close()

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/v1/campaigns/match?user=u1", http.StatusNoContent},
		{"/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestNewStateCache_WithoutRedis(t *testing.T) {
	var cfg config.Config
	cfg.Redis.LocalMaxEntries = 10
	cfg.Redis.TTLSeconds = 60
	c, closeFn := newStateCache(context.Background(), cfg)
	defer closeFn()
	assert.IsType(t, &storage.MemoryCache{}, c)
}
