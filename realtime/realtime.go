// Package realtime subscribes to job-status changes pushed over the
// backend's websocket channel service. It is an additive alternative to
// polling: the poller stays canonical, and hosts that want immediate
// updates can layer a subscription on top.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bunkscan/bunkscan-go/core"
	"github.com/gorilla/websocket"
)

// Config controls one realtime connection.
type Config struct {
	// BaseURL is the backend base URL; the websocket endpoint is derived
	// from it.
	BaseURL string
	// AnonKey is the public API key, passed as a query parameter the way
	// the channel service expects.
	AnonKey string
	// AccessToken scopes the subscription to the caller's rows. Optional.
	AccessToken string
	// Table is the persisted jobs table to watch. Defaults to
	// "analysis_jobs".
	Table string
	// HeartbeatInterval keeps the channel alive. Default 30s.
	HeartbeatInterval time.Duration
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration
}

// Conn is one live websocket connection. A Conn serves one subscription;
// Close must be called when the owning context is torn down so no read
// loop outlives its observer.
type Conn struct {
	conn      *websocket.Conn
	cfg       Config
	ctx       context.Context
	cancel    context.CancelFunc
	updates   chan core.JobStatusSnapshot
	closeOnce sync.Once

	// writeMu serializes all frame writes; the websocket library allows
	// only one concurrent writer.
	writeMu sync.Mutex

	refMu sync.Mutex
	ref   int
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Dial connects to the channel service.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Table == "" {
		cfg.Table = "analysis_jobs"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	wsURL, err := websocketURL(cfg.BaseURL, cfg.AnonKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, core.NewError(core.ErrNetwork, "realtime dial", core.WithWrapped(err))
	}

	c := &Conn{
		conn:    conn,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan core.JobStatusSnapshot, 16),
	}
	go c.heartbeatLoop()
	return c, nil
}

// Subscribe joins the change channel for one job and returns the stream of
// status snapshots. The channel closes when the connection does.
func (c *Conn) Subscribe(jobID string) (<-chan core.JobStatusSnapshot, error) {
	join := channelMessage{
		Topic:   topicFor(c.cfg.Table, jobID),
		Event:   "phx_join",
		Ref:     c.nextRef(),
		Payload: map[string]any{"access_token": c.cfg.AccessToken},
	}
	if err := c.writeJSON(join); err != nil {
		return nil, core.NewError(core.ErrNetwork, "realtime join", core.WithWrapped(err))
	}
	go c.readLoop()
	return c.updates, nil
}

// Close tears the connection down and stops both loops.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.cancel()
	})
	return err
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			hb := channelMessage{Topic: "phoenix", Event: "heartbeat", Ref: c.nextRef(), Payload: map[string]any{}}
			if err := c.writeJSON(hb); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.updates)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				// Connection died; the subscriber sees the closed channel.
			}
			return
		}

		snapshot, ok := parseChangeMessage(data)
		if !ok {
			continue
		}
		select {
		case c.updates <- snapshot:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) nextRef() string {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.ref++
	return strconv.Itoa(c.ref)
}

// channelMessage is the phoenix-channel envelope the service speaks.
type channelMessage struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Ref     string         `json:"ref"`
	Payload map[string]any `json:"payload"`
}

func topicFor(table, jobID string) string {
	return fmt.Sprintf("realtime:public:%s:id=eq.%s", table, jobID)
}

func websocketURL(baseURL, anonKey string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Host == "" {
		return "", core.NewError(core.ErrNetwork, "realtime: invalid base URL")
	}
	scheme := "wss"
	if parsed.Scheme == "http" {
		scheme = "ws"
	}
	q := url.Values{}
	q.Set("apikey", anonKey)
	q.Set("vsn", "1.0.0")
	return scheme + "://" + parsed.Host + "/realtime/v1/websocket?" + q.Encode(), nil
}

// changeEnvelope is one pushed row change.
type changeEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Record struct {
			ID               string          `json:"id"`
			Status           string          `json:"status"`
			Result           json.RawMessage `json:"result"`
			ResultJSON       string          `json:"result_json"`
			ErrorMessage     string          `json:"error_message"`
			LastErrorMessage string          `json:"last_error_message"`
		} `json:"record"`
	} `json:"payload"`
}

// parseChangeMessage converts a pushed row change into a status snapshot.
// Non-change traffic (join replies, heartbeat acks) is skipped.
func parseChangeMessage(data []byte) (core.JobStatusSnapshot, bool) {
	var env changeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.JobStatusSnapshot{}, false
	}
	if env.Event != "UPDATE" && env.Event != "INSERT" {
		return core.JobStatusSnapshot{}, false
	}
	rec := env.Payload.Record
	if rec.ID == "" || rec.Status == "" {
		return core.JobStatusSnapshot{}, false
	}

	snapshot := core.JobStatusSnapshot{
		JobID:  rec.ID,
		Status: core.ParseJobStatus(rec.Status),
	}
	switch snapshot.Status {
	case core.StatusDone:
		if result, err := core.DecodeAnalysisResult(rec.Result, rec.ResultJSON); err == nil {
			snapshot.Result = result
		}
	case core.StatusFailed:
		snapshot.ErrorMessage = rec.ErrorMessage
		if snapshot.ErrorMessage == "" {
			snapshot.ErrorMessage = rec.LastErrorMessage
		}
	}
	return snapshot, true
}
