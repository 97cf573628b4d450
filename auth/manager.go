// Package auth owns the access/refresh token lifecycle: proactive renewal,
// single-flight refresh with retry budgets, queuing of requests blocked on
// an in-flight refresh, and logout signalling.
package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/marketbay/client-go/core/backoff"
	"github.com/marketbay/client-go/core/tag"
	"github.com/marketbay/client-go/core/token"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/log"
	"github.com/marketbay/client-go/metrics"
	"github.com/marketbay/client-go/store"
)

// Logout reason for an explicit user logout.
const ReasonUserLogout = "user_logout"

// Manager guarantees that any caller asking for a usable token either gets
// a currently-valid one or an explicit failure, and that at most one
// refresh network call is ever in flight.
//
// Construct one per application through New; there is no package-level
// instance.
type Manager struct {
	cfg     Config
	storage store.Storage
	httpc   *http.Client
	logger  *log.Logger
	metrics *metrics.Metrics
	backoff backoff.Strategy
	events  *dispatcher

	group singleflight.Group

	mu          sync.Mutex
	session     *Session
	inFlight    bool
	lastAttempt time.Time
	proactive   *time.Timer
	proactiveAt time.Time
	queue       []*pendingRequest
	closed      bool

	revalidateSpec string
	cron           *cron.Cron
	watchCancel    context.CancelFunc

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// pendingRequest is one request waiting on the in-flight refresh.
type pendingRequest struct {
	replay func(accessToken string) error
	done   chan error
}

// New constructs a Manager bound to the given storage. Any session already
// persisted there is adopted.
func New(cfg Config, storage store.Storage, opts ...Option) (*Manager, error) {
	if err := tag.ApplyDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, errors.BadRequest("auth: base URL is required")
	}

	m := &Manager{
		cfg:     cfg,
		storage: storage,
		now:     time.Now,
		sleep:   sleepContext,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = log.G
	}
	if m.httpc == nil {
		m.httpc = &http.Client{}
	}
	if m.backoff == nil {
		m.backoff = backoff.NewExponential()
	}
	m.events = newDispatcher(m.logger)

	// Adopt a previously persisted session. A malformed stored token is
	// discarded rather than trusted.
	if sess, err := loadSession(context.Background(), storage); err == nil {
		m.session = sess
	} else {
		m.logger.Warn().Err(err).Msg("discarding unreadable stored session")
		_ = clearStoredSession(context.Background(), storage)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	if err := m.startWatcher(watchCtx); err != nil {
		m.logger.Warn().Err(err).Msg("storage watcher unavailable")
	}

	if m.revalidateSpec != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(m.revalidateSpec, m.revalidate); err != nil {
			cancel()
			return nil, errors.BadRequest("auth: bad revalidation schedule %q: %v", m.revalidateSpec, err)
		}
		m.cron.Start()
	}

	return m, nil
}

// Subscribe registers an event handler and returns its removal func.
func (m *Manager) Subscribe(h Handler) func() {
	return m.events.subscribe(h)
}

// EnsureValidToken checks the current access token locally. An absent or
// malformed token fails closed. A token within the refresh threshold of
// expiry triggers a refresh and awaits it; otherwise a proactive refresh
// timer is armed and the call returns immediately.
func (m *Manager) EnsureValidToken(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return errors.ErrAuthenticationRequired
	}

	now := m.now()
	if !sess.Claims.NeedsRefresh(now, m.cfg.RefreshThreshold) {
		m.armProactive(sess.Claims.Remaining(now) - m.cfg.RefreshThreshold)
		return nil
	}

	return m.Refresh(ctx)
}

// AccessToken returns the current access token without validation.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return "", false
	}
	return m.session.Access, true
}

// CurrentProfile returns the stored user profile, or nil.
func (m *Manager) CurrentProfile() *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	return m.session.Profile
}

// VendorID returns the vendor scope of the session, when any.
func (m *Manager) VendorID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Profile == nil {
		return ""
	}
	return m.session.Profile.VendorID
}

// HasSession reports whether a session is currently held.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// RefreshInFlight reports whether a refresh is currently running.
func (m *Manager) RefreshInFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// SetSession adopts a token pair obtained outside the refresh flow
// (login, registration, OAuth callback) and persists it.
func (m *Manager) SetSession(ctx context.Context, pair token.Pair, profile *Profile) error {
	sess, err := newSession(pair, profile)
	if err != nil {
		return errors.BadRequest("auth: rejected malformed access token").WithCause(err)
	}

	if err := sess.persist(ctx, m.storage); err != nil {
		return err
	}

	m.mu.Lock()
	m.session = sess
	m.lastAttempt = time.Time{}
	m.mu.Unlock()

	m.armProactive(sess.Claims.Remaining(m.now()) - m.cfg.RefreshThreshold)
	return nil
}

// Logout clears the session locally. The backend logout endpoint is
// best-effort: a failure there never blocks the local clear.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return
	}

	if m.cfg.LogoutPath != "" {
		if err := m.postLogout(ctx, sess.Refresh); err != nil {
			m.logger.Debug().Err(err).Msg("backend logout failed, clearing locally anyway")
		}
	}

	m.clearSession(ReasonUserLogout, nil)
}

// NotifyOnline revalidates the session after a connectivity regain.
func (m *Manager) NotifyOnline(ctx context.Context) {
	m.revalidateWith(ctx, "online")
}

// NotifyForeground revalidates the session when the host app returns to
// the foreground.
func (m *Manager) NotifyForeground(ctx context.Context) {
	m.revalidateWith(ctx, "foreground")
}

func (m *Manager) revalidate() {
	m.revalidateWith(context.Background(), "schedule")
}

func (m *Manager) revalidateWith(ctx context.Context, trigger string) {
	if !m.HasSession() {
		return
	}
	if err := m.EnsureValidToken(ctx); err != nil {
		m.logger.Debug().Err(err).Str("trigger", trigger).Msg("opportunistic revalidation failed")
	}
}

// QueueRequest parks a request until the in-flight refresh resolves, then
// replays it with the fresh access token. Queued requests are released in
// arrival order; a terminal refresh failure rejects them all.
func (m *Manager) QueueRequest(ctx context.Context, replay func(accessToken string) error) error {
	p := &pendingRequest{
		replay: replay,
		done:   make(chan error, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.Internal("auth: manager closed")
	}
	m.queue = append(m.queue, p)
	m.mu.Unlock()
	m.metrics.QueuedRequestAdded()

	// Make sure something will drain the queue. A throttled refresh
	// resolves nothing, so the queue is failed fast instead of hanging.
	go func() {
		if err := m.Refresh(context.Background()); err != nil && errors.Is(err, ErrRefreshThrottled) {
			m.rejectQueue(err)
		}
	}()

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// armProactive schedules a refresh for when the token enters the renewal
// window.
func (m *Manager) armProactive(in time.Duration) {
	if in <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.proactive != nil {
		m.proactive.Stop()
	}
	m.proactiveAt = m.now().Add(in)
	m.proactive = time.AfterFunc(in, func() {
		if m.HasSession() {
			_ = m.Refresh(context.Background())
		}
	})
}

// startWatcher observes storage changes made by other holders of the same
// session: adoption of a newer pair, and external revocation.
func (m *Manager) startWatcher(ctx context.Context) error {
	ch, err := m.storage.Watch(ctx)
	if err != nil {
		return err
	}

	go func() {
		for change := range ch {
			m.handleStorageChange(change)
		}
	}()
	return nil
}

func (m *Manager) handleStorageChange(change store.Change) {
	if change.Key != store.KeyAccessToken && change.Key != store.KeyRefreshToken {
		return
	}

	switch change.Op {
	case store.OpRemove:
		// Our own clear already set session to nil; anything else is an
		// authoritative revocation from another session holder.
		m.mu.Lock()
		had := m.session != nil
		m.session = nil
		if m.proactive != nil {
			m.proactive.Stop()
		}
		m.mu.Unlock()

		if had {
			m.logger.Info().Str("key", change.Key).Msg("session revoked externally")
			m.rejectQueue(errors.NewRefreshError(ReasonSessionRevoked, 0, "", nil))
			m.events.emit(Event{Type: EventLogout, Reason: ReasonSessionRevoked})
		}

	case store.OpSet:
		m.mu.Lock()
		same := m.session != nil &&
			(change.Key != store.KeyAccessToken || m.session.Access == change.NewValue) &&
			(change.Key != store.KeyRefreshToken || m.session.Refresh == change.NewValue)
		m.mu.Unlock()
		if same {
			// self-echo of our own persist
			return
		}

		sess, err := loadSession(context.Background(), m.storage)
		if err != nil || sess == nil {
			return
		}

		m.mu.Lock()
		m.session = sess
		m.mu.Unlock()
		m.logger.Debug().Msg("adopted session updated by another holder")
		m.armProactive(sess.Claims.Remaining(m.now()) - m.cfg.RefreshThreshold)
	}
}

// clearSession drops local and stored state and emits the logout event.
func (m *Manager) clearSession(reason string, cause error) {
	m.mu.Lock()
	m.session = nil
	if m.proactive != nil {
		m.proactive.Stop()
	}
	m.mu.Unlock()

	if err := clearStoredSession(context.Background(), m.storage); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear stored session")
	}

	m.rejectQueue(errors.NewRefreshError(reason, 0, "", cause))
	m.events.emit(Event{Type: EventLogout, Reason: reason})
}

// releaseQueue replays queued requests sequentially with the fresh token,
// preserving arrival order.
func (m *Manager) releaseQueue(accessToken string) {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	go func() {
		for _, p := range pending {
			p.done <- p.replay(accessToken)
			m.metrics.QueuedRequestDone()
		}
	}()
}

// rejectQueue fails every queued request with err.
func (m *Manager) rejectQueue(err error) {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, p := range pending {
		p.done <- err
		m.metrics.QueuedRequestDone()
	}
}

// Close stops timers, the watcher and the event pool. It does not touch
// the stored session.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.proactive != nil {
		m.proactive.Stop()
	}
	m.mu.Unlock()

	if m.cron != nil {
		m.cron.Stop()
	}
	m.watchCancel()
	m.rejectQueue(errors.Internal("auth: manager closed"))
	m.events.close()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
