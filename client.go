// Package bunkscan is the Go client for the BunkScan product-analysis
// backend. It signs in anonymously, submits one analysis job at a time,
// and resolves each job to a terminal result by polling the status
// endpoint. The analysis itself (scoring, bias detection, claim
// verification) runs server-side; this package only honors that contract.
package bunkscan

import (
	"context"
	"net/http"
	"time"

	"github.com/bunkscan/bunkscan-go/auth"
	"github.com/bunkscan/bunkscan-go/core"
	"github.com/bunkscan/bunkscan-go/functions"
	"github.com/bunkscan/bunkscan-go/history"
)

// Config carries the fixed backend configuration injected at construction.
// BaseURL and AnonKey are required; everything else has working defaults.
type Config struct {
	// BaseURL is the backend base URL (scheme + host).
	BaseURL string
	// AnonKey is the public API key sent on every call.
	AnonKey string
	// HTTPClient overrides the tuned default client, mainly for tests.
	HTTPClient *http.Client
	// PollInterval is the fixed delay between status polls. Default 2s.
	PollInterval time.Duration
	// PollMaxAttempts bounds the poll loop. Default 30.
	PollMaxAttempts int
	// HistoryPageSize bounds one history listing. Default 50.
	HistoryPageSize int
}

// Client is the entry point for the submit-and-poll protocol.
type Client struct {
	cfg       Config
	sessions  *auth.Manager
	functions *functions.Client
	history   *history.Client
}

// NewClient validates cfg and wires the session, functions, and history
// clients around one shared anonymous session.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.AnonKey == "" {
		return nil, ErrMissingAnonKey
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = DefaultPollMaxAttempts
	}

	authOpts := []auth.Option{auth.WithBaseURL(cfg.BaseURL), auth.WithAnonKey(cfg.AnonKey)}
	fnOpts := []functions.Option{functions.WithBaseURL(cfg.BaseURL), functions.WithAnonKey(cfg.AnonKey)}
	histOpts := []history.Option{history.WithBaseURL(cfg.BaseURL), history.WithAnonKey(cfg.AnonKey)}
	if cfg.HTTPClient != nil {
		authOpts = append(authOpts, auth.WithHTTPClient(cfg.HTTPClient))
		fnOpts = append(fnOpts, functions.WithHTTPClient(cfg.HTTPClient))
		histOpts = append(histOpts, history.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.HistoryPageSize > 0 {
		histOpts = append(histOpts, history.WithPageSize(cfg.HistoryPageSize))
	}

	sessions := auth.New(authOpts...)
	return &Client{
		cfg:       cfg,
		sessions:  sessions,
		functions: functions.New(sessions, fnOpts...),
		history:   history.New(sessions, histOpts...),
	}, nil
}

// Sessions exposes the shared session manager so the host application can
// check IsAuthenticated and Warning for its banner state.
func (c *Client) Sessions() *auth.Manager { return c.sessions }

// Functions exposes the low-level invoker for callers that need endpoints
// this package does not wrap.
func (c *Client) Functions() *functions.Client { return c.functions }

// History lists the user's past analyses, newest first.
func (c *Client) History(ctx context.Context, userID string) ([]core.HistoryRecord, error) {
	records, err := c.history.List(ctx, userID)
	if err != nil {
		return nil, &OpError{Op: "History", Err: err}
	}
	return records, nil
}

// Analysis is the outcome of a full submit-and-poll run. Cached is true
// when the backend answered from a prior result and no polling happened.
type Analysis struct {
	Result *core.AnalysisResult
	Cached bool
	JobID  string
}

// Analyze submits the request and, unless the backend answers from cache,
// polls the job to a terminal state. onUpdate may be nil; when set it fires
// on every observed status, repeats included.
func (c *Client) Analyze(ctx context.Context, req core.AnalyzeRequest, onUpdate func(core.JobStatusSnapshot)) (*Analysis, error) {
	submitted, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if submitted.Cached {
		return &Analysis{Result: submitted.Result, Cached: true}, nil
	}

	poller := c.Poller()
	poller.OnUpdate = onUpdate
	result, err := poller.Wait(ctx, submitted.Handle)
	if err != nil {
		return nil, err
	}
	return &Analysis{Result: result, JobID: submitted.Handle.JobID}, nil
}

// Poller builds a poller over this client's functions invoker using the
// configured interval and attempt budget.
func (c *Client) Poller() *Poller {
	return &Poller{
		functions:   c.functions,
		Interval:    c.cfg.PollInterval,
		MaxAttempts: c.cfg.PollMaxAttempts,
	}
}
