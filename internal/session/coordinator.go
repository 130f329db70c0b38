// Package session tracks SDK lifecycle state and defers calls that must not
// run before a lifecycle milestone is reached.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateRefreshing    State = "refreshing"
)

type Milestone string

const (
	Initialized      Milestone = "initialized"
	RefreshCompleted Milestone = "refresh_completed"
)

var ErrAlreadyInitialized = errors.New("sdk already initialized")

// PendingCall is a caller waiting for a milestone. It is released exactly once.
type PendingCall struct {
	ID           uuid.UUID
	Label        string
	ResolvedWhen Milestone
	handle       *Handle
}

// Coordinator owns the lifecycle state of one SDK instance. Signals never
// fail and nothing times out: a milestone that never arrives leaves its
// waiters pending.
type Coordinator struct {
	mu          sync.Mutex
	state       State
	initialized bool
	pending     []PendingCall
}

func NewCoordinator() *Coordinator {
	return &Coordinator{state: StateUninitialized}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the queued calls in enqueue order.
func (c *Coordinator) Pending() []PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PendingCall(nil), c.pending...)
}

// BeginInitialize moves the SDK into initializing. Retrying after a failed
// initialization is allowed.
func (c *Coordinator) BeginInitialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return ErrAlreadyInitialized
	}
	c.state = StateInitializing
	return nil
}

// AwaitMilestone returns a handle that settles once m is reached. It is
// already settled when m has passed for the current cycle.
func (c *Coordinator) AwaitMilestone(label string, m Milestone) *Handle {
	h := newHandle(label)

	c.mu.Lock()
	if c.passedLocked(m) {
		c.mu.Unlock()
		h.resolve()
		return h
	}
	call := PendingCall{ID: uuid.New(), Label: label, ResolvedWhen: m, handle: h}
	c.pending = append(c.pending, call)
	depth := len(c.pending)
	c.mu.Unlock()

	log.Debug().Str("label", label).Str("milestone", string(m)).
		Str("call_id", call.ID.String()).Int("queued", depth).Msg("call deferred")
	return h
}

func (c *Coordinator) passedLocked(m Milestone) bool {
	switch m {
	case Initialized:
		return c.initialized
	case RefreshCompleted:
		return c.state == StateReady
	default:
		return false
	}
}

// SignalReached marks m as reached and releases every call waiting on it in
// enqueue order. Calls waiting on the other milestone stay queued.
func (c *Coordinator) SignalReached(m Milestone) {
	c.mu.Lock()
	switch m {
	case Initialized:
		c.initialized = true
		c.state = StateReady
	case RefreshCompleted:
		if c.initialized {
			c.state = StateReady
		}
	}

	var released []PendingCall
	kept := c.pending[:0]
	for _, call := range c.pending {
		if call.ResolvedWhen == m {
			released = append(released, call)
			continue
		}
		kept = append(kept, call)
	}
	// clear the tail so released handles are not retained
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = PendingCall{}
	}
	c.pending = kept
	c.mu.Unlock()

	for _, call := range released {
		call.handle.resolve()
	}
	if len(released) > 0 {
		log.Debug().Str("milestone", string(m)).Int("released", len(released)).Msg("deferred calls released")
	}
}

// SignalRefreshStarted records that a refresh is running. It releases
// nothing and blocks nothing; until the refresh completes, new waiters on
// RefreshCompleted are queued.
func (c *Coordinator) SignalRefreshStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady {
		c.state = StateRefreshing
	}
}

// SignalRefreshAborted returns a failed refresh to ready so the previous
// campaign list keeps serving. Calls already queued on RefreshCompleted stay
// queued until a refresh completes.
func (c *Coordinator) SignalRefreshAborted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRefreshing {
		c.state = StateReady
	}
}

// Handle is the completion handle of a deferred call.
type Handle struct {
	label string
	done  chan struct{}

	mu       sync.Mutex
	resolved bool
	then     []func()
}

func newHandle(label string) *Handle {
	return &Handle{label: label, done: make(chan struct{})}
}

func (h *Handle) Label() string { return h.label }

// Done is closed once the milestone is reached.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Resolved() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolved
}

// Wait blocks until the handle settles or ctx ends. Giving up does not
// retract the call; it is still released when the milestone arrives.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then runs fn once the handle settles, immediately if it already has.
// Continuations of handles released together run in release order.
func (h *Handle) Then(fn func()) {
	h.mu.Lock()
	if !h.resolved {
		h.then = append(h.then, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn()
}

func (h *Handle) resolve() {
	h.mu.Lock()
	if h.resolved {
		h.mu.Unlock()
		return
	}
	h.resolved = true
	then := h.then
	h.then = nil
	close(h.done)
	h.mu.Unlock()

	for _, fn := range then {
		fn()
	}
}
