// Package session keeps one order.Configurator per ordering session and
// serialises access to it. The configurator itself is single-owner; every
// call goes through the per-session mutex here.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/fuua/internal/events"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
)

var (
	// ErrNotFound is returned for unknown or evicted sessions.
	ErrNotFound = errors.New("session: not found")
	// ErrCapacity is returned when Max sessions are open and none is idle.
	ErrCapacity = errors.New("session: capacity reached")
)

var nopLogger = zerolog.Nop()

// Session is one open ordering session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	cfg      *order.Configurator
	lastSeen time.Time
}

// Registry owns every open session.
type Registry struct {
	Menu      *menu.Menu
	Submitter order.Submitter
	Events    *events.Bus
	IdleTTL   time.Duration
	Max       int
	Logger    *zerolog.Logger
	Now       func() time.Time
	Started   metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds a registry with an OpenTelemetry session counter.
func NewRegistry(m *menu.Menu, submitter order.Submitter, idleTTL time.Duration, max int) *Registry {
	started, _ := otel.Meter("github.com/noah-isme/fuua/internal/session").Int64Counter(
		"fuua.sessions.started",
		metric.WithDescription("Ordering sessions started."),
	)
	return &Registry{Menu: m, Submitter: submitter, IdleTTL: idleTTL, Max: max, Started: started}
}

// Start opens a new session.
func (r *Registry) Start(ctx context.Context) (string, order.Snapshot, error) {
	now := r.now()
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*Session)
	}
	var evicted []string
	if r.Max > 0 && len(r.sessions) >= r.Max {
		evicted = r.sweepLocked(now)
		if len(r.sessions) >= r.Max {
			r.mu.Unlock()
			r.endEvicted(ctx, evicted)
			return "", order.Snapshot{}, ErrCapacity
		}
	}
	id := uuid.NewString()
	cfg := order.New(r.Menu, r.Submitter)
	cfg.Logger = r.Logger
	s := &Session{ID: id, CreatedAt: now, cfg: cfg, lastSeen: now}
	r.sessions[id] = s
	r.recordActiveLocked()
	r.mu.Unlock()

	r.endEvicted(ctx, evicted)
	if r.Started != nil {
		r.Started.Add(ctx, 1)
	}
	r.emit(ctx, events.TopicSessionStarted, id, nil)
	r.logger().Debug().Str("session_id", id).Msg("session started")
	return id, cfg.Snapshot(), nil
}

// Do runs fn against the session's configurator while holding its lock and
// returns the resulting snapshot.
func (r *Registry) Do(ctx context.Context, id string, fn func(*order.Configurator)) (order.Snapshot, error) {
	s, err := r.get(id)
	if err != nil {
		return order.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = r.now()
	if fn != nil {
		fn(s.cfg)
	}
	return s.cfg.Snapshot(), nil
}

// Snapshot reads the session state.
func (r *Registry) Snapshot(ctx context.Context, id string) (order.Snapshot, error) {
	return r.Do(ctx, id, nil)
}

// AddToCart confirms the current wrap. The returned wrap is nil when the
// selection was incomplete.
func (r *Registry) AddToCart(ctx context.Context, id string) (order.Snapshot, *order.ConfirmedWrap, error) {
	var added *order.ConfirmedWrap
	snap, err := r.Do(ctx, id, func(c *order.Configurator) {
		if w, ok := c.AddToCart(); ok {
			added = &w
		}
	})
	if err == nil && added != nil {
		r.emit(ctx, events.TopicWrapAdded, id, map[string]any{
			"wrapId": added.ID, "type": added.Type.ID, "total": added.Total,
		})
	}
	return snap, added, err
}

// RemoveFromCart drops a confirmed wrap. Unknown ids leave the cart unchanged.
func (r *Registry) RemoveFromCart(ctx context.Context, id, wrapID string) (order.Snapshot, bool, error) {
	removed := false
	snap, err := r.Do(ctx, id, func(c *order.Configurator) { removed = c.RemoveFromCart(wrapID) })
	if err == nil && removed {
		r.emit(ctx, events.TopicWrapRemoved, id, map[string]any{"wrapId": wrapID})
	}
	return snap, removed, err
}

// Submit sends the session's cart. The cart is empty afterwards whatever the
// submitter did.
func (r *Registry) Submit(ctx context.Context, id string) (order.Snapshot, []order.ConfirmedWrap, error) {
	var sent []order.ConfirmedWrap
	ctx = obs.WithSessionID(ctx, id)
	snap, err := r.Do(ctx, id, func(c *order.Configurator) { sent = c.SubmitOrder(ctx) })
	if err == nil {
		var total pricing.Money
		for _, w := range sent {
			total += w.Total
		}
		r.emit(ctx, events.TopicOrderSubmitted, id, map[string]any{"wraps": len(sent), "total": total})
	}
	return snap, sent, err
}

// End closes a session.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.sessions, id)
	r.recordActiveLocked()
	r.mu.Unlock()
	r.emit(ctx, events.TopicSessionEnded, id, map[string]any{"reason": "closed"})
	return nil
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than IdleTTL and returns how many.
// Sessions busy in Do are skipped.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	evicted := r.sweepLocked(r.now())
	r.mu.Unlock()
	r.endEvicted(ctx, evicted)
	return len(evicted)
}

func (r *Registry) endEvicted(ctx context.Context, evicted []string) {
	for _, id := range evicted {
		r.emit(ctx, events.TopicSessionEnded, id, map[string]any{"reason": "idle"})
	}
	if len(evicted) > 0 {
		r.logger().Info().Int("evicted", len(evicted)).Msg("idle sessions evicted")
	}
}

// RunJanitor sweeps every interval until ctx ends.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

func (r *Registry) sweepLocked(now time.Time) []string {
	if r.IdleTTL <= 0 {
		return nil
	}
	var evicted []string
	for id, s := range r.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.lastSeen) > r.IdleTTL
		s.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	r.recordActiveLocked()
	return evicted
}

func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) emit(ctx context.Context, topic, id string, payload any) {
	if r.Events == nil {
		return
	}
	if _, err := r.Events.Emit(ctx, topic, id, payload); err != nil {
		r.logger().Warn().Err(err).Str("topic", topic).Str("session_id", id).Msg("event emit failed")
	}
}

func (r *Registry) recordActiveLocked() {
	if obs.SessionsActive != nil {
		obs.SessionsActive.Set(float64(len(r.sessions)))
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Registry) logger() *zerolog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return &nopLogger
}
