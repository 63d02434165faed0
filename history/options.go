package history

import (
	"net/http"
	"time"
)

type Option func(*options)

type options struct {
	baseURL    string
	anonKey    string
	table      string
	pageSize   int
	httpClient *http.Client
	timeout    time.Duration
}

func defaultOptions() options {
	return options{
		table:    "analysis_jobs",
		pageSize: DefaultPageSize,
		timeout:  15 * time.Second,
	}
}

// WithBaseURL sets the backend base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithAnonKey sets the public API key sent on every call.
func WithAnonKey(key string) Option {
	return func(o *options) { o.anonKey = key }
}

// WithTable overrides the persisted jobs table name.
func WithTable(table string) Option {
	return func(o *options) { o.table = table }
}

// WithPageSize bounds one listing; values below 1 keep the default.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}
