package bunkscan

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bunkscan/bunkscan-go/core"
)

// AnalyzeFunction is the edge function that accepts submissions.
const AnalyzeFunction = "analyze_product"

// submitWire mirrors the analyze endpoint's immediate response. Cached
// answers carry the result inline under either of the historical keys.
type submitWire struct {
	Status     string          `json:"status"`
	JobID      string          `json:"job_id"`
	JobToken   string          `json:"job_token"`
	Result     json.RawMessage `json:"result"`
	ResultJSON string          `json:"result_json"`
	BSScore    *float64        `json:"bs_score"`
}

// Submit sends one analysis request. A cached response short-circuits with
// the result and no job handle; a queued response returns the handle the
// poller consumes. Exactly one HTTP submission is issued per call;
// submissions are not idempotent, so nothing here retries on ambiguous
// failure.
func (c *Client) Submit(ctx context.Context, req core.AnalyzeRequest) (*core.SubmitResponse, error) {
	if !req.Valid() {
		return nil, &OpError{Op: "Submit", Err: ErrInvalidRequest}
	}

	body := map[string]string{}
	switch req.Kind() {
	case core.InputURL:
		body["url"] = strings.TrimSpace(req.URL)
	case core.InputText:
		body["text"] = strings.TrimSpace(req.Text)
	case core.InputImage:
		body["image_url"] = strings.TrimSpace(req.ImageRef)
	}

	raw, err := c.functions.Invoke(ctx, AnalyzeFunction, http.MethodPost, body, nil)
	if err != nil {
		return nil, &OpError{Op: "Submit", Err: err}
	}

	var wire submitWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &OpError{Op: "Submit", Err: core.NewError(core.ErrMalformedResponse,
			"parse submit response", core.WithRaw(raw), core.WithWrapped(err))}
	}

	status := core.ParseJobStatus(wire.Status)
	if status == core.StatusCached || status == core.StatusDone {
		result, err := core.DecodeAnalysisResult(wire.Result, wire.ResultJSON)
		if err != nil && wire.BSScore != nil {
			// Very old cached rows carry only the top-level score.
			if verr := core.ValidateScore(*wire.BSScore); verr == nil {
				result = &core.AnalysisResult{Score: *wire.BSScore}
				err = nil
			}
		}
		if err != nil {
			return nil, &OpError{Op: "Submit", Err: err}
		}
		return &core.SubmitResponse{Status: status, Cached: true, Result: result}, nil
	}

	if wire.JobID == "" {
		return nil, &OpError{Op: "Submit", Err: core.NewError(core.ErrMalformedResponse,
			"queued response missing job_id", core.WithRaw(raw))}
	}
	return &core.SubmitResponse{
		Status: status,
		Handle: core.JobHandle{JobID: wire.JobID, JobToken: wire.JobToken},
	}, nil
}
