package core

import (
	"strings"
	"time"
)

// Session is the process-wide anonymous identity used on every
// authenticated call. It is owned by the auth manager and always replaced
// wholesale, never mutated field by field.
type Session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	IsAnonymous bool      `json:"is_anonymous"`
}

// Authenticated reports whether the session carries a usable token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// InputKind identifies which field of an AnalyzeRequest is populated.
type InputKind string

const (
	InputURL   InputKind = "url"
	InputText  InputKind = "text"
	InputImage InputKind = "image"
)

// AnalyzeRequest describes one product analysis submission. Exactly one of
// URL, Text, or ImageRef must be non-blank; whitespace-only values count as
// absent.
type AnalyzeRequest struct {
	URL      string
	Text     string
	ImageRef string
}

// Kind returns the populated input kind, or "" when the request is invalid.
func (r AnalyzeRequest) Kind() InputKind {
	switch {
	case strings.TrimSpace(r.URL) != "":
		return InputURL
	case strings.TrimSpace(r.Text) != "":
		return InputText
	case strings.TrimSpace(r.ImageRef) != "":
		return InputImage
	}
	return ""
}

// Valid reports whether exactly one input field is populated.
func (r AnalyzeRequest) Valid() bool {
	n := 0
	for _, v := range []string{r.URL, r.Text, r.ImageRef} {
		if strings.TrimSpace(v) != "" {
			n++
		}
	}
	return n == 1
}

// JobStatus is the backend-reported lifecycle state of an analysis job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
	// StatusCached marks a submission answered immediately from a prior
	// result. It is a bypass, not a poller state.
	StatusCached JobStatus = "cached"
)

// ParseJobStatus normalizes the wire spellings the backend has used across
// schema versions ("running" for processing, "completed" for done).
func ParseJobStatus(s string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return StatusQueued
	case "processing", "running":
		return StatusProcessing
	case "done", "completed":
		return StatusDone
	case "failed":
		return StatusFailed
	case "cached":
		return StatusCached
	}
	return JobStatus(strings.ToLower(strings.TrimSpace(s)))
}

// Terminal reports whether no further polling can change the status.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// JobHandle identifies a queued job for subsequent status polls. It is
// owned by exactly one in-flight poll operation.
type JobHandle struct {
	JobID    string
	JobToken string
}

// SubmitResponse is the immediate answer to a submission. Cached responses
// carry the result and skip polling entirely; queued responses carry the
// handle the poller consumes.
type SubmitResponse struct {
	Status SubmitStatus
	Cached bool
	Handle JobHandle
	Result *AnalysisResult
}

// SubmitStatus is the submission-time status reported by the backend.
type SubmitStatus = JobStatus

// JobStatusSnapshot is one observation of a job's state. Result is present
// only on terminal success, ErrorMessage only on terminal failure.
type JobStatusSnapshot struct {
	JobID        string
	Status       JobStatus
	Result       *AnalysisResult
	ErrorMessage string
}

// FactualClaim is one claim extracted from the analyzed material.
type FactualClaim struct {
	Claim      string   `json:"claim"`
	Verified   *bool    `json:"verified,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// AnalysisResult is the terminal output of an analysis. Score is continuous
// in [0,10] and semantically inverted: higher means weaker evidence and
// more exaggerated claims.
type AnalysisResult struct {
	Score          float64        `json:"score"`
	BiasIndicators []string       `json:"bias_indicators,omitempty"`
	FactualClaims  []FactualClaim `json:"factual_claims,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Sources        []string       `json:"sources,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// HistoryRecord is a read view over one persisted job.
type HistoryRecord struct {
	ID         string
	InputType  InputKind
	InputValue string
	CreatedAt  time.Time
	Status     JobStatus
	Score      *float64
	Payload    map[string]any
}
