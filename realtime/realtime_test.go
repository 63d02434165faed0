package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bunkscan/bunkscan-go/core"
	"github.com/gorilla/websocket"
)

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("https://abc.supabase.co", "anon-key")
	if err != nil {
		t.Fatalf("websocketURL: %v", err)
	}
	want := "wss://abc.supabase.co/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0"
	if u != want {
		t.Fatalf("url = %q, want %q", u, want)
	}

	u, err = websocketURL("http://localhost:54321/", "k")
	if err != nil {
		t.Fatalf("websocketURL: %v", err)
	}
	if u != "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0" {
		t.Fatalf("local url = %q", u)
	}

	if _, err := websocketURL("not a url", "k"); err == nil {
		t.Fatal("expected error for a malformed base URL")
	}
}

// TestConcurrentWriters drives the heartbeat, join, and close writers
// against one connection. Run with -race; the writes must stay serialized.
func TestConcurrentWriters(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Config{
		BaseURL:           srv.URL,
		AnonKey:           "anon-key",
		HeartbeatInterval: time.Microsecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	updates, err := conn.Subscribe("J1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Give the heartbeat ticker time to interleave with the join and the
	// close frame below.
	time.Sleep(10 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, open := <-updates:
		if open {
			t.Fatal("expected the updates channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("updates channel did not close after Close")
	}
}

func TestTopicFor(t *testing.T) {
	got := topicFor("analysis_jobs", "J1")
	if got != "realtime:public:analysis_jobs:id=eq.J1" {
		t.Fatalf("topic = %q", got)
	}
}

func TestParseChangeMessageUpdate(t *testing.T) {
	snapshot, ok := parseChangeMessage([]byte(`{
		"event": "UPDATE",
		"payload": {"record": {"id": "J1", "status": "done",
			"result": {"bs_score": 8.5, "summary": "mostly bunk"}}}
	}`))
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snapshot.JobID != "J1" || snapshot.Status != core.StatusDone {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Result == nil || snapshot.Result.Score != 8.5 {
		t.Fatalf("result mishandled: %+v", snapshot.Result)
	}
}

func TestParseChangeMessageFailed(t *testing.T) {
	snapshot, ok := parseChangeMessage([]byte(`{
		"event": "UPDATE",
		"payload": {"record": {"id": "J2", "status": "failed",
			"last_error_message": "model overloaded"}}
	}`))
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snapshot.Status != core.StatusFailed || snapshot.ErrorMessage != "model overloaded" {
		t.Fatalf("snapshot = %+v", snapshot)
	}
}

func TestParseChangeMessageSkipsNonChanges(t *testing.T) {
	cases := []string{
		`{"event":"phx_reply","payload":{"status":"ok"}}`,
		`{"event":"heartbeat"}`,
		`{"event":"UPDATE","payload":{"record":{"id":"","status":"done"}}}`,
		`not json`,
	}
	for _, msg := range cases {
		if _, ok := parseChangeMessage([]byte(msg)); ok {
			t.Fatalf("message %q must be skipped", msg)
		}
	}
}
