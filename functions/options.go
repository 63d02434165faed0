package functions

import (
	"net/http"
	"time"
)

type Option func(*options)

type options struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
}

func defaultOptions() options {
	return options{
		timeout: 30 * time.Second,
		headers: map[string]string{},
	}
}

// WithBaseURL sets the backend base URL the functions host is derived from.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithAnonKey sets the public API key sent on every call.
func WithAnonKey(key string) Option {
	return func(o *options) { o.anonKey = key }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeader adds a static header to every invocation.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}
