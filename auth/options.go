package auth

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
}

func defaultOptions() options {
	return options{
		timeout: 15 * time.Second,
	}
}

// WithBaseURL sets the backend base URL (scheme + host, no trailing path).
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithAnonKey sets the public API key sent on every auth call.
func WithAnonKey(key string) Option {
	return func(o *options) { o.anonKey = key }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}
