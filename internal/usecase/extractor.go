package usecase

import (
	"encoding/json"
	"strings"

	"coingate/internal/domain/entity"
)

// ResponseExtractor pulls the JSON object a model emits after a marker out of
// free text. Extract never fails: unusable output yields the fallback payload.
type ResponseExtractor struct {
	marker   string
	fallback func(reason string) map[string]any
}

func NewResponseExtractor(marker string, fallback func(reason string) map[string]any) *ResponseExtractor {
	return &ResponseExtractor{marker: marker, fallback: fallback}
}

func (e *ResponseExtractor) Marker() string { return e.marker }

func (e *ResponseExtractor) HasMarker(raw string) bool {
	return strings.Contains(raw, e.marker)
}

// Prose returns the conversational text before the first marker.
func (e *ResponseExtractor) Prose(raw string) string {
	if i := strings.Index(raw, e.marker); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

func (e *ResponseExtractor) Extract(raw string) entity.ExtractedPayload {
	// First occurrence wins; a marker echoed back later must not shift the payload.
	i := strings.Index(raw, e.marker)
	if i < 0 {
		return e.degraded("structured marker not found in model output")
	}
	rest := raw[i+len(e.marker):]

	start := strings.Index(rest, "{")
	end := strings.LastIndex(rest, "}")
	if start < 0 || end < start {
		return e.degraded("no JSON object after marker")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(rest[start:end+1]), &data); err != nil {
		return e.degraded("invalid JSON after marker: " + err.Error())
	}
	if data == nil {
		return e.degraded("JSON payload is null")
	}
	return entity.ExtractedPayload{Data: data}
}

func (e *ResponseExtractor) degraded(reason string) entity.ExtractedPayload {
	var data map[string]any
	if e.fallback != nil {
		data = e.fallback(reason)
	}
	if data == nil {
		data = map[string]any{}
	}
	data["error"] = reason
	return entity.ExtractedPayload{Data: data, Degraded: true, Error: reason}
}

// toMap converts a payload struct into the generic map shape callers receive.
func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
