// Package sdk is one SDK instance: it owns the readiness coordinator, the
// campaign engine and the store, and gates every call on the lifecycle.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"campaign-sdk/internal/engine"
	"campaign-sdk/internal/observability"
	"campaign-sdk/internal/segment"
	"campaign-sdk/internal/session"
)

var (
	ErrNotInitialized = errors.New("sdk not initialized")
	ErrInvalidRequest = errors.New("invalid request")
)

// Store is the persistence the SDK depends on.
type Store interface {
	LoadActiveCampaigns(ctx context.Context) ([]segment.Campaign, error)
	LoadUserState(ctx context.Context, projectID, userID string) (segment.UserState, error)
	RecordEvent(ctx context.Context, projectID, userID, name string, at time.Time) error
	SetUserProperties(ctx context.Context, projectID, userID string, props map[string]any) error
	SetDeviceProperties(ctx context.Context, projectID, userID string, props map[string]any) error
}

type TrackRequest struct {
	UserID string         `json:"user_id"`
	Event  string         `json:"event"`
	Params map[string]any `json:"params,omitempty"`
	At     time.Time      `json:"at,omitempty"`
}

// MatchResult lists matching campaigns plus one diagnostic per campaign whose
// targeting could not be evaluated.
type MatchResult struct {
	Campaigns   []segment.Campaign `json:"campaigns"`
	Diagnostics []string           `json:"diagnostics,omitempty"`
}

type Client struct {
	projectID string
	store     Store
	engine    *engine.CampaignEngine
	coord     *session.Coordinator
	now       func() time.Time

	refreshMu sync.Mutex
}

func New(projectID string, store Store, eng *engine.CampaignEngine, coord *session.Coordinator) *Client {
	return &Client{
		projectID: projectID,
		store:     store,
		engine:    eng,
		coord:     coord,
		now:       time.Now,
	}
}

func (c *Client) Coordinator() *session.Coordinator { return c.coord }

func (c *Client) State() session.State { return c.coord.State() }

// Init loads the first campaign list and releases calls waiting for
// initialization. On failure the SDK stays initializing and Init may be retried.
func (c *Client) Init(ctx context.Context) error {
	if err := c.coord.BeginInitialize(); err != nil {
		return err
	}
	log.Info().Str("project_id", c.projectID).Msg("sdk initializing")

	if err := c.engine.BuildSnapshot(ctx, c.store); err != nil {
		observability.Refreshes.WithLabelValues("init", "error").Inc()
		return fmt.Errorf("initialize: %w", err)
	}
	c.coord.SignalReached(session.Initialized)
	observability.Refreshes.WithLabelValues("init", "ok").Inc()
	c.reportPending()
	log.Info().Str("project_id", c.projectID).Msg("sdk ready")
	return nil
}

// Refresh reloads the campaign list. Until it succeeds, calls waiting on
// RefreshCompleted stay queued. A failed refresh keeps the previous list and
// returns the SDK to ready.
func (c *Client) Refresh(ctx context.Context) error {
	switch c.coord.State() {
	case session.StateUninitialized, session.StateInitializing:
		return ErrNotInitialized
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.coord.SignalRefreshStarted()
	if err := c.engine.BuildSnapshot(ctx, c.store); err != nil {
		c.coord.SignalRefreshAborted()
		observability.Refreshes.WithLabelValues("refresh", "error").Inc()
		return fmt.Errorf("refresh: %w", err)
	}
	c.coord.SignalReached(session.RefreshCompleted)
	observability.Refreshes.WithLabelValues("refresh", "ok").Inc()
	c.reportPending()
	return nil
}

// StartRefresher runs Refresh on the cron schedule until ctx ends.
func (c *Client) StartRefresher(ctx context.Context, schedule string) error {
	cr := cron.New()
	_, err := cr.AddFunc(schedule, func() {
		if err := c.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled refresh")
		}
	})
	if err != nil {
		return fmt.Errorf("refresh schedule %q: %w", schedule, err)
	}
	cr.Start()
	log.Info().Str("schedule", schedule).Msg("campaign refresher started")

	go func() {
		<-ctx.Done()
		<-cr.Stop().Done()
		log.Info().Msg("campaign refresher stopped")
	}()
	return nil
}

// Track records an event for the user and returns the campaigns it triggers.
func (c *Client) Track(ctx context.Context, req TrackRequest) (MatchResult, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Event) == "" {
		return MatchResult{}, fmt.Errorf("%w: user_id and event are required", ErrInvalidRequest)
	}
	if err := c.await(ctx, "track:"+req.Event, session.Initialized); err != nil {
		return MatchResult{}, err
	}

	at := req.At
	if at.IsZero() {
		at = c.now()
	}
	if err := c.store.RecordEvent(ctx, c.projectID, req.UserID, req.Event, at); err != nil {
		return MatchResult{}, err
	}
	return c.match(ctx, req.UserID, req.Event, req.Params)
}

// Evaluate matches campaigns for the user without recording anything. Once
// initialized it also waits out an in-flight refresh so it sees the newest
// campaign list.
func (c *Client) Evaluate(ctx context.Context, userID, event string) (MatchResult, error) {
	if strings.TrimSpace(userID) == "" {
		return MatchResult{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if err := c.await(ctx, "evaluate", session.Initialized); err != nil {
		return MatchResult{}, err
	}
	if err := c.await(ctx, "evaluate", session.RefreshCompleted); err != nil {
		return MatchResult{}, err
	}
	return c.match(ctx, userID, event, nil)
}

// Identify merges user properties.
func (c *Client) Identify(ctx context.Context, userID string, props map[string]any) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if err := c.await(ctx, "identify", session.Initialized); err != nil {
		return err
	}
	return c.store.SetUserProperties(ctx, c.projectID, userID, props)
}

// SetDeviceProperties merges device properties.
func (c *Client) SetDeviceProperties(ctx context.Context, userID string, props map[string]any) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if err := c.await(ctx, "device", session.Initialized); err != nil {
		return err
	}
	return c.store.SetDeviceProperties(ctx, c.projectID, userID, props)
}

// EvaluateSegment checks one targeting definition against a supplied state.
// It touches neither the store nor the lifecycle.
func (c *Client) EvaluateSegment(si segment.SegmentInfo, state segment.UserState) (bool, error) {
	return c.engine.Evaluator().EvaluateSegment(si, state)
}

func (c *Client) match(ctx context.Context, userID, event string, params map[string]any) (MatchResult, error) {
	state, err := c.store.LoadUserState(ctx, c.projectID, userID)
	if err != nil {
		return MatchResult{}, err
	}
	state.EventParams = params

	matches, err := c.engine.Match(ctx, engine.MatchRequest{Event: event, State: state})
	res := MatchResult{Campaigns: matches, Diagnostics: diagnostics(err)}
	if res.Campaigns == nil {
		res.Campaigns = []segment.Campaign{}
	}
	return res, nil
}

func (c *Client) await(ctx context.Context, label string, m session.Milestone) error {
	h := c.coord.AwaitMilestone(label, m)
	if h.Resolved() {
		return nil
	}
	c.reportPending()
	defer c.reportPending()
	if err := h.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", m, err)
	}
	return nil
}

func (c *Client) reportPending() {
	observability.PendingCalls.Set(float64(len(c.coord.Pending())))
}

func diagnostics(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
