package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Identity names the caller of a search. ClientID keys the identity scope
// and SessionID keys the session scope.
type Identity struct {
	ClientID  string
	SessionID string
}

// normalize fills in the keys an anonymous caller did not provide.
func (id Identity) normalize() Identity {
	if id.ClientID == "" {
		id.ClientID = "unknown"
	}
	if id.SessionID == "" {
		id.SessionID = "client:" + id.ClientID
	}
	return id
}

// Config configures the admission checks.
type Config struct {
	// Window is the length of the identity and global request windows.
	Window time.Duration

	// IdentityLimit is the maximum number of requests per identity per window.
	IdentityLimit int

	// SessionLimit is the maximum number of concurrent searches per session.
	SessionLimit int

	// GlobalLimit is the maximum number of requests across all identities per window.
	GlobalLimit int

	// SessionRetryAfter is the retry hint returned when the session gate is full.
	SessionRetryAfter time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Window:            DefaultWindow,
		IdentityLimit:     DefaultIdentityLimit,
		SessionLimit:      DefaultSessionLimit,
		GlobalLimit:       DefaultGlobalLimit,
		SessionRetryAfter: DefaultSessionRetryAfter,
	}
}

// Validate reports a configuration the limiter cannot run with.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %v", c.Window)
	}
	if c.IdentityLimit <= 0 || c.SessionLimit <= 0 || c.GlobalLimit <= 0 {
		return fmt.Errorf("ratelimit: limits must be positive (identity=%d session=%d global=%d)",
			c.IdentityLimit, c.SessionLimit, c.GlobalLimit)
	}
	if c.SessionRetryAfter <= 0 {
		return fmt.Errorf("ratelimit: session retry-after must be positive, got %v", c.SessionRetryAfter)
	}
	return nil
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRecorder sends every admission decision to r.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) {
		l.recorder = r
	}
}

// Limiter makes the combined identity, session and global admission
// decision. A decision either consumes capacity in all three scopes or in
// none of them. The global charge can be handed back with
// Permit.RefundGlobal when the search never reaches the source.
type Limiter struct {
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
	recorder Recorder

	identities *counterSet[windowCounter]
	sessions   *counterSet[sessionGate]

	globalMu sync.Mutex
	global   windowCounter
}

// New creates a Limiter.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		global: windowCounter{identity: "global", limit: cfg.GlobalLimit},
	}
	l.identities = newCounterSet(func(key string) *windowCounter {
		return &windowCounter{identity: key, limit: cfg.IdentityLimit}
	})
	l.sessions = newCounterSet(func(key string) *sessionGate {
		return &sessionGate{session: key, limit: cfg.SessionLimit}
	})

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Permit is held for the duration of one admitted search.
type Permit struct {
	once    sync.Once
	release func()

	refundOnce sync.Once
	refund     func()
}

// Release frees the session slot. It is safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// RefundGlobal returns the global-scope charge of a search that was answered
// without reaching the source. Identity and session charges are kept. It is
// a no-op after the first call and once the charged window has rolled over.
func (p *Permit) RefundGlobal() {
	if p == nil || p.refund == nil {
		return
	}
	p.refundOnce.Do(p.refund)
}

// TryAcquire admits or denies one search for id. On admission the caller
// must Release the returned Permit when the search completes. On denial the
// error is a *LimitError and no scope has been charged.
func (l *Limiter) TryAcquire(id Identity) (*Permit, error) {
	id = id.normalize()

	now, globalWindow, denied := l.decide(id)
	if denied != nil {
		RateLimitDenied.WithLabelValues(string(denied.Scope)).Inc()
		l.logger.Warn().
			Str("client_id", id.ClientID).
			Str("session_id", id.SessionID).
			Str("scope", string(denied.Scope)).
			Dur("retry_after", denied.RetryAfter).
			Msg("Rate limit exceeded")
		l.record(Event{Scope: denied.Scope, Allowed: false, At: now})
		return nil, denied
	}

	l.record(Event{Allowed: true, At: now})
	l.logger.Debug().
		Str("client_id", id.ClientID).
		Str("session_id", id.SessionID).
		Msg("Request admitted")

	return &Permit{
		release: func() { l.release(id.SessionID) },
		refund:  func() { l.refundGlobal(globalWindow) },
	}, nil
}

// decide checks and charges all three scopes while holding their locks,
// always taken in identity, session, global order. It returns the start of
// the global window that was charged.
func (l *Limiter) decide(id Identity) (time.Time, time.Time, *LimitError) {
	ident := l.lockIdentity(id.ClientID)
	defer ident.mu.Unlock()
	gate := l.lockSession(id.SessionID)
	defer gate.mu.Unlock()
	l.globalMu.Lock()
	defer l.globalMu.Unlock()

	now := l.now()
	ident.roll(now, l.cfg.Window)
	l.global.roll(now, l.cfg.Window)

	switch {
	case ident.full():
		return now, time.Time{}, &LimitError{Scope: ScopeIdentity, Limit: l.cfg.IdentityLimit, RetryAfter: ident.remaining(now, l.cfg.Window)}
	case gate.active >= gate.limit:
		return now, time.Time{}, &LimitError{Scope: ScopeSession, Limit: l.cfg.SessionLimit, RetryAfter: l.cfg.SessionRetryAfter}
	case l.global.full():
		return now, time.Time{}, &LimitError{Scope: ScopeGlobal, Limit: l.cfg.GlobalLimit, RetryAfter: l.global.remaining(now, l.cfg.Window)}
	}

	ident.count++
	l.global.count++
	gate.active++
	if gate.active == 1 {
		SessionsActive.Inc()
	}
	return now, l.global.windowStart, nil
}

// refundGlobal undoes one global charge made in the window starting at
// windowStart.
func (l *Limiter) refundGlobal(windowStart time.Time) {
	l.globalMu.Lock()
	defer l.globalMu.Unlock()

	if l.global.windowStart.Equal(windowStart) && l.global.count > 0 {
		l.global.count--
	}
}

// lockIdentity returns the locked, live counter for client.
func (l *Limiter) lockIdentity(client string) *windowCounter {
	for {
		c := l.identities.get(client)
		c.mu.Lock()
		if !c.removed {
			return c
		}
		c.mu.Unlock()
	}
}

// lockSession returns the locked, live gate for session.
func (l *Limiter) lockSession(session string) *sessionGate {
	for {
		g := l.sessions.get(session)
		g.mu.Lock()
		if !g.removed {
			return g
		}
		g.mu.Unlock()
	}
}

func (l *Limiter) release(session string) {
	g := l.lockSession(session)
	defer g.mu.Unlock()

	if g.active > 0 {
		g.active--
		if g.active == 0 {
			SessionsActive.Dec()
		}
	}
}

func (l *Limiter) record(ev Event) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(context.Background(), ev); err != nil {
		l.logger.Debug().Err(err).Msg("Failed to record rate limit event")
	}
}

// Usage is a point-in-time view of one identity's consumption.
type Usage struct {
	IdentityCount  int
	SessionActive  int
	GlobalCount    int
	IdentityResets time.Time
}

// Usage returns the current counters for id without charging anything.
func (l *Limiter) Usage(id Identity) Usage {
	id = id.normalize()
	now := l.now()

	var u Usage
	ident := l.lockIdentity(id.ClientID)
	if !ident.idle(now, l.cfg.Window) {
		u.IdentityCount = ident.count
		u.IdentityResets = ident.windowStart.Add(l.cfg.Window)
	}
	ident.mu.Unlock()

	gate := l.lockSession(id.SessionID)
	u.SessionActive = gate.active
	gate.mu.Unlock()

	l.globalMu.Lock()
	if !l.global.idle(now, l.cfg.Window) {
		u.GlobalCount = l.global.count
	}
	l.globalMu.Unlock()

	return u
}

// Cleanup removes identity counters whose window has elapsed and session
// gates with nothing in flight. It returns the number of entries removed.
func (l *Limiter) Cleanup() int {
	now := l.now()

	n := l.identities.sweep(func(c *windowCounter) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.idle(now, l.cfg.Window) {
			c.removed = true
			return true
		}
		return false
	})
	n += l.sessions.sweep(func(g *sessionGate) bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.active == 0 {
			g.removed = true
			return true
		}
		return false
	})
	return n
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Cleanup(); n > 0 {
					l.logger.Debug().
						Int("removed", n).
						Int("identities", l.identities.len()).
						Int("sessions", l.sessions.len()).
						Msg("Rate limit janitor swept idle entries")
				}
			}
		}
	}()
}
