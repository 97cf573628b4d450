package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/marketbay/client-go/core/token"
	"github.com/marketbay/client-go/errors"
	"github.com/marketbay/client-go/metrics"
)

// ErrRefreshThrottled is returned when a new refresh is requested before
// MinRefreshInterval has elapsed since the previous attempt.
var ErrRefreshThrottled = errors.TooManyRequests("refresh throttled").WithCode("refresh_throttled")

// refreshRequest is the wire body of the refresh endpoint.
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// apiError is the backend's error body shape. RetryAfter is in
// milliseconds and only present on 429 responses.
type apiError struct {
	Detail     string `json:"detail"`
	ErrorCode  string `json:"error_code"`
	RetryAfter int64  `json:"retry_after"`
}

// refreshResult is the classified outcome of one network attempt.
type refreshResult struct {
	pair       token.Pair
	statusCode int
	code       string
	retryAfter time.Duration
	err        error // transport-level failure
}

// Refresh renews the token pair. Concurrent callers join the single
// in-flight attempt and all observe its outcome. The refresh itself runs
// detached from ctx: once started it completes even if every waiter
// gives up.
func (m *Manager) Refresh(ctx context.Context) error {
	ch := m.group.DoChan("refresh", func() (any, error) {
		m.mu.Lock()
		m.inFlight = true
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			m.inFlight = false
			m.mu.Unlock()
		}()
		return nil, m.doRefresh()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		// The flight keeps running; only this waiter gives up.
		return ctx.Err()
	}
}

// doRefresh drives the retry state machine for one refresh flight.
func (m *Manager) doRefresh() error {
	start := m.now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.Internal("auth: manager closed")
	}
	if !m.lastAttempt.IsZero() && start.Sub(m.lastAttempt) < m.cfg.MinRefreshInterval {
		m.mu.Unlock()
		return ErrRefreshThrottled
	}
	m.lastAttempt = start
	sess := m.session
	m.mu.Unlock()

	if sess == nil || sess.Refresh == "" {
		err := errors.NewRefreshError(errors.ReasonRefreshError, 0, "", errors.ErrAuthenticationRequired)
		m.rejectQueue(err)
		m.metrics.ObserveRefresh(metrics.OutcomeTerminal, m.now().Sub(start))
		return err
	}

	attempts := 0
	rateRetries := 0
	for {
		res := m.performRefresh(sess.Refresh)

		switch {
		case res.err == nil && res.statusCode == http.StatusOK:
			if err := m.adoptPair(res.pair, sess); err != nil {
				return err
			}
			m.metrics.ObserveRefresh(metrics.OutcomeSuccess, m.now().Sub(start))
			return nil

		case res.err == nil && res.statusCode == http.StatusUnauthorized:
			// Refresh token rejected. No retry can help.
			m.logger.Info().Int("status", res.statusCode).Str("code", res.code).
				Msg("refresh token rejected, logging out")
			m.clearSession(errors.ReasonTokenExpired, nil)
			m.metrics.ObserveRefresh(metrics.OutcomeTerminal, m.now().Sub(start))
			return errors.NewRefreshError(errors.ReasonTokenExpired, res.statusCode, res.code, nil)

		case res.err == nil && res.statusCode == http.StatusTooManyRequests:
			if rateRetries >= 1 {
				m.clearSession(errors.ReasonRefreshFailed, &errors.RateLimitError{RetryAfter: res.retryAfter})
				m.metrics.ObserveRefresh(metrics.OutcomeTerminal, m.now().Sub(start))
				return errors.NewRefreshError(errors.ReasonRefreshFailed, res.statusCode, res.code,
					&errors.RateLimitError{RetryAfter: res.retryAfter})
			}
			rateRetries++
			m.metrics.ObserveRefresh(metrics.OutcomeRateLimited, m.now().Sub(start))
			m.logger.Debug().Dur("retry_after", res.retryAfter).Msg("refresh rate limited")
			if err := m.sleep(context.Background(), res.retryAfter); err != nil {
				return err
			}

		case res.err != nil || errors.Retryable(res.statusCode):
			attempts++
			if attempts >= m.cfg.MaxRetries {
				m.logger.Warn().Int("attempts", attempts).Msg("refresh retry budget exhausted")
				m.clearSession(errors.ReasonMaxRetriesExceeded, res.err)
				m.metrics.ObserveRefresh(metrics.OutcomeTerminal, m.now().Sub(start))
				return errors.NewRefreshError(errors.ReasonMaxRetriesExceeded, res.statusCode, res.code, res.err)
			}
			delay := m.backoff.Delay(attempts - 1)
			m.metrics.ObserveRefresh(metrics.OutcomeRetried, m.now().Sub(start))
			m.logger.Debug().Err(res.err).Int("status", res.statusCode).
				Int("attempt", attempts).Dur("delay", delay).Msg("refresh attempt failed, retrying")
			if err := m.sleep(context.Background(), delay); err != nil {
				return err
			}

		default:
			// Unexpected but definitive response. Keeping a session whose
			// refresh endpoint rejects us would strand every caller.
			m.clearSession(errors.ReasonRefreshError, nil)
			m.metrics.ObserveRefresh(metrics.OutcomeTerminal, m.now().Sub(start))
			return errors.NewRefreshError(errors.ReasonRefreshError, res.statusCode, res.code, nil)
		}
	}
}

// performRefresh executes one refresh network call with its own timeout,
// deliberately detached from any caller context.
func (m *Manager) performRefresh(refreshToken string) refreshResult {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return refreshResult{err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+m.cfg.RefreshPath, bytes.NewReader(body))
	if err != nil {
		return refreshResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return refreshResult{err: err}
	}
	defer resp.Body.Close()

	res := refreshResult{statusCode: resp.StatusCode}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		res.err = err
		return res
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var pair token.Pair
		if err := json.Unmarshal(payload, &pair); err != nil {
			res.err = err
			return res
		}
		if !pair.Valid() {
			res.err = token.ErrMalformed
			return res
		}
		res.pair = pair

	case http.StatusTooManyRequests:
		var body apiError
		_ = json.Unmarshal(payload, &body)
		res.code = body.ErrorCode
		if body.RetryAfter > 0 {
			// The server's own pacing wins over header or backoff.
			res.retryAfter = time.Duration(body.RetryAfter) * time.Millisecond
		} else {
			res.retryAfter = retryAfterOf(resp.Header, m.backoff.Delay(0))
		}

	default:
		res.code = decodeErrorCode(payload)
	}

	return res
}

// adoptPair installs a fresh pair, persists it, releases the queue and
// emits the success event. The refresh token is carried over when the
// backend does not rotate it.
func (m *Manager) adoptPair(pair token.Pair, prev *Session) error {
	if pair.RefreshToken == "" {
		pair.RefreshToken = prev.Refresh
	}

	var profile *Profile
	if prev != nil {
		profile = prev.Profile
	}

	sess, err := newSession(pair, profile)
	if err != nil {
		m.clearSession(errors.ReasonRefreshError, err)
		return errors.NewRefreshError(errors.ReasonRefreshError, http.StatusOK, "", err)
	}

	if err := sess.persist(context.Background(), m.storage); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist refreshed session")
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	m.armProactive(sess.Claims.Remaining(m.now()) - m.cfg.RefreshThreshold)
	m.releaseQueue(sess.Access)
	m.events.emit(Event{Type: EventRefreshSuccess})
	m.logger.Debug().Time("expires_at", sess.Claims.ExpiresAtTime()).Msg("token refreshed")
	return nil
}

// postLogout is the best-effort server-side logout call.
func (m *Manager) postLogout(ctx context.Context, refreshToken string) error {
	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.cfg.BaseURL+m.cfg.LogoutPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if access, ok := m.AccessToken(); ok {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return errors.New(resp.StatusCode, "logout rejected")
	}
	return nil
}

// decodeErrorCode pulls the machine error code out of an error body,
// tolerating non-JSON payloads.
func decodeErrorCode(payload []byte) string {
	var body apiError
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.ErrorCode
}

// retryAfterOf honours the server's Retry-After header, falling back to
// the given delay when it is absent or unreadable.
func retryAfterOf(h http.Header, fallback time.Duration) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}
