// Package history reads a user's persisted analysis jobs and reconciles
// them into presentable records. It papers over several generations of
// result schema: the score has lived under different field names, and
// clarification-only jobs carry no score at all.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bunkscan/bunkscan-go/auth"
	"github.com/bunkscan/bunkscan-go/core"
	"github.com/bunkscan/bunkscan-go/internal/httpclient"
	"github.com/bunkscan/bunkscan-go/obs"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultPageSize bounds one history listing.
const DefaultPageSize = 50

// Client lists persisted jobs through the backend's rest endpoint.
type Client struct {
	opts     options
	sessions *auth.Manager
	http     *http.Client
}

// New constructs a history client sharing the given session manager.
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

// List returns the user's presentable history, newest first, bounded to the
// configured page size. Jobs that only asked for disambiguation and never
// produced a score are filtered out; a job with a score is always kept,
// disambiguation flag or not.
func (c *Client) List(ctx context.Context, userID string) (_ []core.HistoryRecord, err error) {
	ctx, recorder := obs.StartRequest(ctx, "history.List",
		attribute.String("history.user_id", userID),
	)
	defer func() { recorder.End(err) }()

	sess, sessErr := c.sessions.EnsureSession(ctx)
	if !sess.Authenticated() {
		if sessErr != nil {
			return nil, sessErr
		}
		return nil, core.NewError(core.ErrSessionUnavailable, "no usable token for history listing")
	}

	query := url.Values{}
	query.Set("select", "*")
	query.Set("user_id", "eq."+userID)
	query.Set("order", "created_at.desc")
	query.Set("limit", strconv.Itoa(c.opts.pageSize))

	endpoint := strings.TrimRight(c.opts.baseURL, "/") + "/rest/v1/" + c.opts.table + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, core.NewError(core.ErrNetwork, "build history request", core.WithWrapped(err))
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("apikey", c.opts.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.NewError(core.ErrNetwork, "history transport failure", core.WithWrapped(err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, core.NewError(core.ErrNetwork, "read history response", core.WithWrapped(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewError(core.ErrHTTP,
			fmt.Sprintf("history listing returned status %d", resp.StatusCode),
			core.WithStatus(resp.StatusCode), core.WithRaw(body))
	}

	var rows []jobRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, core.NewError(core.ErrMalformedResponse, "parse history rows",
			core.WithRaw(body), core.WithWrapped(err))
	}

	records := make([]core.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		if rec, ok := reconcile(row); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// jobRow mirrors one persisted job as the rest endpoint returns it. Result
// payloads arrive either as a JSON object or, on older rows, as a string of
// serialized JSON under result_json.
type jobRow struct {
	ID         string          `json:"id"`
	InputType  string          `json:"input_type"`
	InputValue string          `json:"input_value"`
	CreatedAt  time.Time       `json:"created_at"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result"`
	ResultJSON string          `json:"result_json"`
}

// reconcile turns a raw row into a presentable record. The second return is
// false for disambiguation-only rows, which are not actionable and stay out
// of the history view.
func reconcile(row jobRow) (core.HistoryRecord, bool) {
	rec := core.HistoryRecord{
		ID:         row.ID,
		InputType:  core.InputKind(row.InputType),
		InputValue: row.InputValue,
		CreatedAt:  row.CreatedAt,
		Status:     core.ParseJobStatus(row.Status),
	}

	payload := decodePayload(row)
	rec.Payload = payload
	if payload == nil {
		return rec, true
	}

	score, scored := core.ReconcileScore(payload)
	if scored {
		rec.Score = &score
	}
	// Score presence takes precedence over the disambiguation flag.
	if core.NeedsDisambiguation(payload) && !scored {
		return core.HistoryRecord{}, false
	}
	return rec, true
}

func decodePayload(row jobRow) map[string]any {
	data := []byte(strings.TrimSpace(row.ResultJSON))
	if len(data) == 0 {
		data = row.Result
	}
	if len(data) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return payload
}
