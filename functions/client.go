// Package functions is the low-level authenticated invoker for the
// backend's edge function endpoints. It owns the single bounded failover to
// the alternate functions host when the primary rejects a token.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bunkscan/bunkscan-go/auth"
	"github.com/bunkscan/bunkscan-go/core"
	"github.com/bunkscan/bunkscan-go/internal/httpclient"
	"github.com/bunkscan/bunkscan-go/obs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// InvalidTokenSignatures are the backend error substrings that mean the
// bearer token itself was rejected, as opposed to any other 401. Only this
// signature triggers the one-shot failover to the alternate host. Matching
// is case-insensitive substring; the wording varies across backend
// versions, so the list is versioned alongside the backend contract.
var InvalidTokenSignatures = []string{
	"invalid jwt",
	"jwt expired",
	"invalid token",
}

// Client invokes edge functions with bearer + apikey auth.
type Client struct {
	opts     options
	sessions *auth.Manager
	http     *http.Client
}

// New constructs a functions client sharing the given session manager.
func New(sessions *auth.Manager, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{opts: o, sessions: sessions, http: o.httpClient}
}

// Invoke calls the named function and returns the decoded JSON body.
// Write-style methods serialize body as JSON; read-style calls pass query
// parameters only. Exactly one HTTP call is issued per invocation, plus at
// most one failover retry when the primary host rejects the token.
func (c *Client) Invoke(ctx context.Context, name, method string, body any, query url.Values) (_ json.RawMessage, err error) {
	requestID := uuid.NewString()
	ctx, recorder := obs.StartRequest(ctx, "functions.Invoke",
		attribute.String("function.name", name),
		attribute.String("http.method", method),
		attribute.String("request.id", requestID),
	)
	defer func() { recorder.End(err) }()

	sess, sessErr := c.sessions.EnsureSession(ctx)
	if !sess.Authenticated() {
		if sessErr != nil {
			return nil, sessErr
		}
		return nil, core.NewError(core.ErrSessionUnavailable, "no usable token for function call")
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", name, err)
		}
	}

	primary := functionURL(c.opts.baseURL, name, query)
	status, respBody, err := c.do(ctx, method, primary, payload, sess.AccessToken, requestID)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && matchesInvalidToken(bodyMessage(respBody)) {
		// The primary host sometimes rejects tokens the alternate host
		// accepts. One retry there, never more; any other 401 surfaces
		// as-is.
		if fallback, ok := FallbackURL(c.opts.baseURL, name, query); ok {
			recorder.AddAttributes(attribute.Bool("function.failover", true))
			status, respBody, err = c.do(ctx, method, fallback, payload, sess.AccessToken, requestID)
			if err != nil {
				return nil, err
			}
		}
	}

	if status == http.StatusUnauthorized {
		// Token rejected for real. Drop the session so the next
		// invocation signs in fresh.
		c.sessions.Invalidate()
	}

	if status < 200 || status > 299 {
		return nil, httpError(status, respBody)
	}

	if !json.Valid(respBody) {
		return nil, core.NewError(core.ErrMalformedResponse,
			fmt.Sprintf("%s returned a non-JSON body", name), core.WithRaw(respBody))
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, token, requestID string) (int, []byte, error) {
	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, core.NewError(core.ErrNetwork, "build function request", core.WithWrapped(err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", c.opts.anonKey)
	req.Header.Set("X-Request-Id", requestID)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, core.NewError(core.ErrNetwork, "function transport failure", core.WithWrapped(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, core.NewError(core.ErrNetwork, "read function response", core.WithWrapped(err))
	}
	return resp.StatusCode, body, nil
}

// functionURL builds the canonical functions endpoint on the primary host.
func functionURL(baseURL, name string, query url.Values) string {
	u := strings.TrimRight(baseURL, "/") + "/functions/v1/" + name
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// FallbackURL derives the alternate domain form of the functions host:
// https://<ref>.supabase.co/functions/v1/<name> becomes
// https://<ref>.functions.supabase.co/<name>. The second return is false
// when the base URL does not follow the hosted naming scheme and no
// fallback exists.
func FallbackURL(baseURL, name string, query url.Values) (string, bool) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Host == "" {
		return "", false
	}
	host := parsed.Host
	const suffix = ".supabase.co"
	if !strings.HasSuffix(host, suffix) || strings.Contains(host, ".functions.") {
		return "", false
	}
	ref := strings.TrimSuffix(host, suffix)
	if ref == "" || strings.Contains(ref, ".") {
		return "", false
	}
	u := parsed.Scheme + "://" + ref + ".functions" + suffix + "/" + name
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u, true
}

func matchesInvalidToken(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range InvalidTokenSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// errorBody is the shape backend errors arrive in when they are JSON at
// all. Details and hint ride along into the surfaced error instead of
// being dropped.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func bodyMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, s := range []string{eb.Error, eb.Message, eb.Msg} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}

func httpError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := bodyMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", status)
	}
	return core.NewError(core.ErrHTTP, msg,
		core.WithStatus(status),
		core.WithDetails(eb.Details),
		core.WithHint(eb.Hint),
		core.WithRaw(body),
	)
}
