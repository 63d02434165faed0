package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ScoreFieldPriority lists the legacy field names a numeric score may hide
// under, highest priority first. The backend schema evolved through each of
// these; the first numeric hit wins. Order is a compatibility contract:
// extend at the end, never reorder.
var ScoreFieldPriority = []string{"bs_score", "bunk_score", "score"}

// ReconcileScore probes payload for a score under the legacy field names in
// priority order. The second return is false when no numeric value exists.
func ReconcileScore(payload map[string]any) (float64, bool) {
	for _, key := range ScoreFieldPriority {
		if v, ok := payload[key]; ok {
			if f, ok := asNumber(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// NeedsDisambiguation reports whether the payload flags the job as a
// clarification request rather than a scored analysis.
func NeedsDisambiguation(payload map[string]any) bool {
	v, ok := payload["needs_disambiguation"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ValidateScore rejects scores outside [0,10]. An out-of-range value is a
// data-quality problem, not a protocol failure, but it still must not reach
// callers as a trusted result.
func ValidateScore(score float64) error {
	if score < 0 || score > 10 {
		return NewError(ErrMalformedResponse, fmt.Sprintf("score %v outside [0,10]", score))
	}
	return nil
}

// DecodeAnalysisResult parses a result payload from either wire form: a
// `result` JSON object or a `result_json` string containing serialized
// JSON. Older rows store the score under a legacy field name, so the score
// is always reconciled through ScoreFieldPriority.
func DecodeAnalysisResult(result json.RawMessage, resultJSON string) (*AnalysisResult, error) {
	data := []byte(strings.TrimSpace(resultJSON))
	if len(data) == 0 {
		data = result
	}
	if len(data) == 0 {
		return nil, NewError(ErrMalformedResponse, "terminal result missing from response")
	}

	var out AnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, NewError(ErrMalformedResponse, "parse analysis result",
			WithRaw(data), WithWrapped(err))
	}

	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err == nil {
		if s, ok := ReconcileScore(probe); ok {
			out.Score = s
		}
	}

	if err := ValidateScore(out.Score); err != nil {
		return nil, err
	}
	return &out, nil
}
