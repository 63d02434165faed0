package bunkscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/bunkscan/bunkscan-go/core"
	"github.com/bunkscan/bunkscan-go/functions"
	"github.com/bunkscan/bunkscan-go/obs"
	"go.opentelemetry.io/otel/attribute"
)

// StatusFunction is the edge function that reports job state.
const StatusFunction = "job_status"

// Poll loop defaults. Roughly a minute of patience before giving up.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 30
)

// Poller drives one job to a terminal state. A Poller instance owns its
// JobHandle for the duration of Wait: ticks are strictly sequential, and
// no second poll is issued before the previous status call returns.
type Poller struct {
	functions *functions.Client

	// Interval is the fixed delay between ticks.
	Interval time.Duration
	// MaxAttempts bounds the loop; exhausting it yields a poll_timeout
	// error, never a job_failed one.
	MaxAttempts int
	// OnUpdate fires on every observed status, including repeated
	// queued/processing observations, so a host can tell "still queued"
	// apart from "started processing". May be nil.
	OnUpdate func(core.JobStatusSnapshot)
}

// NewPoller builds a poller over the given functions client with defaults.
func NewPoller(fns *functions.Client) *Poller {
	return &Poller{
		functions:   fns,
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultPollMaxAttempts,
	}
}

// statusWire mirrors the job_status response across backend versions.
type statusWire struct {
	JobID            string          `json:"job_id"`
	Status           string          `json:"status"`
	Result           json.RawMessage `json:"result"`
	ResultJSON       string          `json:"result_json"`
	ErrorMessage     string          `json:"error_message"`
	LastErrorMessage string          `json:"last_error_message"`
}

// Wait polls the handle until a terminal state, the attempt budget, or ctx
// ends. Done returns the result; Failed returns a job_failed error with
// the backend's message; running out of attempts returns poll_timeout.
func (p *Poller) Wait(ctx context.Context, handle core.JobHandle) (_ *core.AnalysisResult, err error) {
	ctx, recorder := obs.StartRequest(ctx, "poller.Wait",
		attribute.String("job.id", handle.JobID),
	)
	defer func() { recorder.End(err) }()

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPollMaxAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		snapshot, err := p.tick(ctx, handle)
		if err != nil {
			return nil, err
		}
		if p.OnUpdate != nil {
			p.OnUpdate(snapshot)
		}

		switch snapshot.Status {
		case core.StatusDone:
			if snapshot.Result == nil {
				return nil, core.NewError(core.ErrMalformedResponse,
					"job reported done without a result")
			}
			recorder.AddAttributes(attribute.Int("poll.attempts", attempt+1))
			return snapshot.Result, nil
		case core.StatusFailed:
			msg := snapshot.ErrorMessage
			if msg == "" {
				msg = "analysis failed without a reported reason"
			}
			return nil, core.NewError(core.ErrJobFailed, msg)
		}
	}

	return nil, core.NewError(core.ErrPollTimeout,
		"job did not reach a terminal state within the poll budget")
}

func (p *Poller) tick(ctx context.Context, handle core.JobHandle) (core.JobStatusSnapshot, error) {
	obs.RecordPollTick(attribute.String("job.id", handle.JobID))

	query := url.Values{}
	query.Set("job_id", handle.JobID)
	if handle.JobToken != "" {
		query.Set("job_token", handle.JobToken)
	}

	raw, err := p.functions.Invoke(ctx, StatusFunction, http.MethodGet, nil, query)
	if err != nil {
		return core.JobStatusSnapshot{}, err
	}

	var wire statusWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return core.JobStatusSnapshot{}, core.NewError(core.ErrMalformedResponse,
			"parse job status", core.WithRaw(raw), core.WithWrapped(err))
	}

	snapshot := core.JobStatusSnapshot{
		JobID:  wire.JobID,
		Status: core.ParseJobStatus(wire.Status),
	}
	if snapshot.JobID == "" {
		snapshot.JobID = handle.JobID
	}
	switch snapshot.Status {
	case core.StatusDone:
		result, err := core.DecodeAnalysisResult(wire.Result, wire.ResultJSON)
		if err != nil {
			return core.JobStatusSnapshot{}, err
		}
		snapshot.Result = result
	case core.StatusFailed:
		snapshot.ErrorMessage = wire.ErrorMessage
		if snapshot.ErrorMessage == "" {
			snapshot.ErrorMessage = wire.LastErrorMessage
		}
	}
	return snapshot, nil
}
