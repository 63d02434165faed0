package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
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

// newClient builds a functions client whose transport serves sign-up itself
// and delegates function calls to fn.
func newClient(t *testing.T, fn func(*http.Request) (*http.Response, error)) *Client {
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
	return New(sessions,
		WithBaseURL("https://abc.supabase.co"),
		WithAnonKey("anon-key"),
		WithHTTPClient(httpClient),
	)
}

func TestInvokePost(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", req.Method)
		}
		if req.URL.Host != "abc.supabase.co" || req.URL.Path != "/functions/v1/analyze_product" {
			t.Fatalf("unexpected URL %s", req.URL)
		}
		if req.Header.Get("Authorization") != "Bearer tok-1" {
			t.Fatal("missing bearer token")
		}
		if req.Header.Get("apikey") != "anon-key" {
			t.Fatal("missing apikey header")
		}
		if req.Header.Get("Content-Type") != "application/json" {
			t.Fatal("missing content type")
		}
		if req.Header.Get("X-Request-Id") == "" {
			t.Fatal("missing request id")
		}
		var body map[string]string
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["text"] != "claim" {
			t.Fatalf("unexpected body %v", body)
		}
		return jsonResponse(202, `{"status":"queued","job_id":"J1"}`), nil
	})

	raw, err := client.Invoke(context.Background(), "analyze_product", http.MethodPost, map[string]string{"text": "claim"}, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(string(raw), `"job_id":"J1"`) {
		t.Fatalf("unexpected response %s", raw)
	}
}

func TestInvokeGetQuery(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", req.Method)
		}
		if got := req.URL.Query().Get("job_id"); got != "J1" {
			t.Fatalf("unexpected job_id %q", got)
		}
		if req.Body != nil {
			t.Fatal("GET must not carry a body")
		}
		return jsonResponse(200, `{"job_id":"J1","status":"processing"}`), nil
	})

	query := url.Values{}
	query.Set("job_id", "J1")
	if _, err := client.Invoke(context.Background(), "job_status", http.MethodGet, nil, query); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestInvokeFailoverOnInvalidToken(t *testing.T) {
	var primaryCalls, fallbackCalls int
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Host {
		case "abc.supabase.co":
			primaryCalls++
			return jsonResponse(401, `{"message":"Invalid JWT"}`), nil
		case "abc.functions.supabase.co":
			fallbackCalls++
			if req.URL.Path != "/job_status" {
				t.Fatalf("fallback path %s", req.URL.Path)
			}
			return jsonResponse(200, `{"job_id":"J1","status":"done"}`), nil
		}
		t.Fatalf("unexpected host %s", req.URL.Host)
		return nil, nil
	})

	raw, err := client.Invoke(context.Background(), "job_status", http.MethodGet, nil, nil)
	if err != nil {
		t.Fatalf("Invoke should succeed through the fallback host: %v", err)
	}
	if primaryCalls != 1 || fallbackCalls != 1 {
		t.Fatalf("expected exactly one call per host, got primary=%d fallback=%d", primaryCalls, fallbackCalls)
	}
	if !strings.Contains(string(raw), `"done"`) {
		t.Fatalf("unexpected response %s", raw)
	}
}

func TestInvokeNoFailoverOnOther401(t *testing.T) {
	var calls int
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(401, `{"message":"row level security violation"}`), nil
	})

	_, err := client.Invoke(context.Background(), "job_status", http.MethodGet, nil, nil)
	if !core.IsHTTP(err) {
		t.Fatalf("expected http error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("a 401 without the invalid-token signature must not fail over, got %d calls", calls)
	}
}

func TestInvokeNoFailoverOnOtherStatus(t *testing.T) {
	var calls int
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(500, `{"message":"Invalid JWT"}`), nil
	})

	_, err := client.Invoke(context.Background(), "job_status", http.MethodGet, nil, nil)
	if !core.IsHTTP(err) || core.HTTPStatus(err) != 500 {
		t.Fatalf("expected http 500, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-401 statuses must never fail over, got %d calls", calls)
	}
}

func TestInvokeErrorCarriesDetailsAndHint(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(400, `{"error":"bad input","details":"url unreachable","hint":"check the link"}`), nil
	})

	_, err := client.Invoke(context.Background(), "analyze_product", http.MethodPost, map[string]string{"url": "x"}, nil)
	if !core.IsHTTP(err) {
		t.Fatalf("expected http error, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"bad input", "url unreachable", "check the link"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error message %q missing %q", msg, want)
		}
	}
}

func TestInvokeNonJSONBodyPreserved(t *testing.T) {
	client := newClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(bytes.NewBufferString("<html>gateway error</html>")),
			Header:     http.Header{"Content-Type": []string{"text/html"}},
		}, nil
	})

	_, err := client.Invoke(context.Background(), "job_status", http.MethodGet, nil, nil)
	if !core.IsMalformedResponse(err) {
		t.Fatalf("expected malformed_response, got %v", err)
	}
	var ce *core.Error
	if !errors.As(err, &ce) || !strings.Contains(string(ce.Raw), "gateway error") {
		t.Fatalf("raw body must be preserved, got %+v", ce)
	}
}

func TestFallbackURL(t *testing.T) {
	u, ok := FallbackURL("https://abc.supabase.co", "job_status", nil)
	if !ok || u != "https://abc.functions.supabase.co/job_status" {
		t.Fatalf("unexpected fallback %q ok=%v", u, ok)
	}

	query := url.Values{}
	query.Set("job_id", "J1")
	u, ok = FallbackURL("https://abc.supabase.co", "job_status", query)
	if !ok || u != "https://abc.functions.supabase.co/job_status?job_id=J1" {
		t.Fatalf("unexpected fallback with query %q ok=%v", u, ok)
	}

	if _, ok := FallbackURL("https://api.example.com", "job_status", nil); ok {
		t.Fatal("self-hosted base URLs have no derived fallback")
	}
	if _, ok := FallbackURL("https://abc.functions.supabase.co", "job_status", nil); ok {
		t.Fatal("the fallback host itself must not derive another fallback")
	}
}
