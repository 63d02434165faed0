package history

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/bunkscan/bunkscan-go/auth"
	"github.com/bunkscan/bunkscan-go/core"
)

type roundTrip func(*http.Request) (*http.Response, error)

func (r roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return r(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newClient(t *testing.T, fn func(*http.Request) (*http.Response, error), opts ...Option) *Client {
	t.Helper()
	transport := roundTrip(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/auth/v1/signup" {
			return jsonResponse(200, `{"access_token":"tok-1","user":{"id":"u1"}}`), nil
		}
		return fn(req)
	})
	httpClient := &http.Client{Transport: transport}
	sessions := auth.New(
		auth.WithBaseURL("https://abc.supabase.co"),
		auth.WithAnonKey("anon-key"),
		auth.WithHTTPClient(httpClient),
	)
	opts = append([]Option{
		WithBaseURL("https://abc.supabase.co"),
		WithAnonKey("anon-key"),
		WithHTTPClient(httpClient),
	}, opts...)
	return New(sessions, opts...)
}

func TestListQueryShape(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/rest/v1/analysis_jobs" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		q := req.URL.Query()
		if q.Get("select") != "*" {
			t.Fatalf("select = %q", q.Get("select"))
		}
		if q.Get("user_id") != "eq.u1" {
			t.Fatalf("user_id = %q", q.Get("user_id"))
		}
		if q.Get("order") != "created_at.desc" {
			t.Fatalf("order = %q", q.Get("order"))
		}
		if q.Get("limit") != "5" {
			t.Fatalf("limit = %q", q.Get("limit"))
		}
		if req.Header.Get("Authorization") != "Bearer tok-1" {
			t.Fatal("missing bearer token")
		}
		if req.Header.Get("apikey") != "anon-key" {
			t.Fatal("missing apikey header")
		}
		return jsonResponse(200, `[]`), nil
	}, WithPageSize(5))

	records, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty history, got %d records", len(records))
	}
}

func TestListFiltersDisambiguationOnlyRows(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[
			{"id":"a","input_type":"url","input_value":"https://x.test","status":"done",
			 "result":{"needs_disambiguation":true}},
			{"id":"b","input_type":"text","input_value":"claim","status":"done",
			 "result":{"needs_disambiguation":true,"bs_score":4.2}},
			{"id":"c","input_type":"url","input_value":"https://y.test","status":"done",
			 "result":{"bs_score":9.1,"summary":"bunk"}}
		]`), nil
	})

	records, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected scoreless disambiguation row dropped, got %d records", len(records))
	}
	if records[0].ID != "b" || records[0].Score == nil || *records[0].Score != 4.2 {
		t.Fatalf("row b mishandled: %+v", records[0])
	}
	if records[1].ID != "c" || records[1].Score == nil || *records[1].Score != 9.1 {
		t.Fatalf("row c mishandled: %+v", records[1])
	}
}

func TestListScoreFieldPriority(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[
			{"id":"a","status":"done","result":{"bs_score":3,"bunk_score":7,"score":9}},
			{"id":"b","status":"done","result":{"bunk_score":7,"score":9}},
			{"id":"c","status":"done","result":{"score":9}}
		]`), nil
	})

	records, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := map[string]float64{"a": 3, "b": 7, "c": 9}
	for _, rec := range records {
		if rec.Score == nil {
			t.Fatalf("row %s missing score", rec.ID)
		}
		if *rec.Score != want[rec.ID] {
			t.Fatalf("row %s score = %v, want %v", rec.ID, *rec.Score, want[rec.ID])
		}
	}
}

func TestListLegacyResultJSONString(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[
			{"id":"a","status":"done","result_json":"{\"bunk_score\":5.5}"}
		]`), nil
	})

	records, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].Score == nil || *records[0].Score != 5.5 {
		t.Fatalf("legacy string payload mishandled: %+v", records)
	}
}

func TestListKeepsScorelessNonDisambiguationRows(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `[
			{"id":"a","status":"failed"},
			{"id":"b","status":"processing"}
		]`), nil
	})

	records, err := client.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("rows without payloads stay visible, got %d", len(records))
	}
	if records[0].Status != core.StatusFailed || records[1].Status != core.StatusProcessing {
		t.Fatalf("statuses mishandled: %+v", records)
	}
}

func TestListHTTPError(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(403, `{"message":"permission denied"}`), nil
	})

	_, err := client.List(context.Background(), "u1")
	if !core.IsHTTP(err) || core.HTTPStatus(err) != 403 {
		t.Fatalf("expected http 403, got %v", err)
	}
}
