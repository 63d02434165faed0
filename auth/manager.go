// Package auth owns the process-wide anonymous session. It signs in lazily
// on first use, never preemptively refreshes, and replaces the session as a
// whole value so concurrent readers cannot observe a half-updated one.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bunkscan/bunkscan-go/core"
	"github.com/bunkscan/bunkscan-go/internal/httpclient"
	"github.com/bunkscan/bunkscan-go/obs"
	"go.opentelemetry.io/otel/attribute"
)

// AnonymousDisabledSignatures are the backend error substrings that mean
// anonymous sign-ins are switched off for the project. The backend's
// wording is the de facto contract here; matching is case-insensitive
// substring, not equality. Versioned: extend when the backend's wording
// changes, never repurpose.
var AnonymousDisabledSignatures = []string{
	"anonymous sign-ins are disabled",
	"anonymous_provider_disabled",
}

// Manager obtains and caches one anonymous session per process.
type Manager struct {
	opts options
	http *http.Client

	mu      sync.RWMutex
	session *core.Session
	warn    error

	signMu sync.Mutex
}

// New constructs a session manager. The base URL and anon key are required.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Manager{opts: o, http: o.httpClient}
}

// EnsureSession returns the current session, signing in anonymously first
// if none exists. The returned session is always non-nil; when sign-in is
// rejected the session is unauthenticated and the error carries the typed
// condition (anonymous_disabled for the recoverable configuration case,
// session_unavailable otherwise).
func (m *Manager) EnsureSession(ctx context.Context) (*core.Session, error) {
	m.mu.RLock()
	if m.session.Authenticated() {
		sess := m.session
		m.mu.RUnlock()
		return sess, nil
	}
	m.mu.RUnlock()

	// Serialize sign-in so a burst of callers creates at most one remote
	// anonymous identity per missing-session detection.
	m.signMu.Lock()
	defer m.signMu.Unlock()

	m.mu.RLock()
	if m.session.Authenticated() {
		sess := m.session
		m.mu.RUnlock()
		return sess, nil
	}
	m.mu.RUnlock()

	sess, err := m.signInAnonymously(ctx)
	if sess == nil {
		sess = &core.Session{IsAnonymous: true}
	}

	m.mu.Lock()
	m.session = sess
	m.warn = err
	m.mu.Unlock()

	return sess, err
}

// Initialize performs a passive sign-in attempt and absorbs any failure
// into the unauthenticated state, so the host application can always boot.
// Inspect Warning and IsAuthenticated afterwards.
func (m *Manager) Initialize(ctx context.Context) {
	_, _ = m.EnsureSession(ctx)
}

// IsAuthenticated reports whether a usable token is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Authenticated()
}

// Warning returns the condition absorbed by the last failed sign-in, if
// any. Hosts surface this as a persistent, non-blocking banner.
func (m *Manager) Warning() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warn
}

// Invalidate drops the current session after the backend rejected its
// token. The next EnsureSession call signs in again.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

// Session returns the current session without triggering sign-in.
func (m *Manager) Session() *core.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) signInAnonymously(ctx context.Context) (_ *core.Session, err error) {
	ctx, recorder := obs.StartRequest(ctx, "auth.SignInAnonymously",
		attribute.String("auth.kind", "anonymous"),
	)
	defer func() { recorder.End(err) }()

	endpoint := strings.TrimRight(m.opts.baseURL, "/") + "/auth/v1/signup"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, core.NewError(core.ErrSessionUnavailable, "build sign-in request", core.WithWrapped(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", m.opts.anonKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, core.WrapError(err, core.ErrNetwork)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := extractMessage(body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 || matchesAnonymousDisabled(msg) {
			return nil, core.NewError(core.ErrAnonymousDisabled,
				"anonymous sign-ins are disabled for this backend",
				core.WithStatus(resp.StatusCode), core.WithRaw(body))
		}
		return nil, core.NewError(core.ErrSessionUnavailable,
			fmt.Sprintf("anonymous sign-in rejected: %s", msg),
			core.WithStatus(resp.StatusCode), core.WithRaw(body))
	}

	var payload signUpResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, core.NewError(core.ErrSessionUnavailable, "parse sign-in response",
			core.WithRaw(body), core.WithWrapped(err))
	}
	if payload.AccessToken == "" {
		return nil, core.NewError(core.ErrSessionUnavailable, "sign-in response missing access token",
			core.WithRaw(body))
	}

	sess := &core.Session{
		UserID:      payload.User.ID,
		AccessToken: payload.AccessToken,
		IsAnonymous: true,
	}
	if payload.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	recorder.AddAttributes(attribute.String("auth.user_id", sess.UserID))
	return sess, nil
}

// Verify checks the current token against the backend's user endpoint:
// 2xx means valid, anything else means rejected. The session is dropped on
// rejection so the next authenticated call re-establishes it.
func (m *Manager) Verify(ctx context.Context) (err error) {
	ctx, recorder := obs.StartRequest(ctx, "auth.Verify")
	defer func() { recorder.End(err) }()

	sess := m.Session()
	if !sess.Authenticated() {
		return core.NewError(core.ErrSessionUnavailable, "no session to verify")
	}

	endpoint := strings.TrimRight(m.opts.baseURL, "/") + "/auth/v1/user"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.NewError(core.ErrSessionUnavailable, "build verify request", core.WithWrapped(err))
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("apikey", m.opts.anonKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return core.WrapError(err, core.ErrNetwork)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.Invalidate()
		return core.NewError(core.ErrSessionUnavailable, "token rejected by backend",
			core.WithStatus(resp.StatusCode))
	}
	return nil
}

type signUpResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        struct {
		ID          string `json:"id"`
		IsAnonymous bool   `json:"is_anonymous"`
	} `json:"user"`
}

func matchesAnonymousDisabled(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range AnonymousDisabledSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// extractMessage pulls a human-readable message out of an auth error body,
// falling back to the raw text when it is not JSON.
func extractMessage(body []byte) string {
	var payload struct {
		Msg       string `json:"msg"`
		Message   string `json:"message"`
		ErrorDesc string `json:"error_description"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, s := range []string{payload.Msg, payload.Message, payload.ErrorDesc, payload.Error} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}
