package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFallback(reason string) map[string]any {
	return map[string]any{"summary": "fallback"}
}

func TestExtract(t *testing.T) {
	e := NewResponseExtractor("RESULT:", testFallback)

	tests := []struct {
		name     string
		raw      string
		degraded bool
		summary  string
	}{
		{"clean", `Thanks! RESULT: {"summary":"ok"}`, false, "ok"},
		{"code fence", "Done.\nRESULT:\n```json\n{\"summary\":\"fenced\"}\n```", false, "fenced"},
		{"nested braces", `RESULT: {"summary":"n","meta":{"a":{"b":1}}} bye`, false, "n"},
		{"no marker", `{"summary":"ignored"}`, true, "fallback"},
		{"marker without json", `RESULT: nothing here`, true, "fallback"},
		{"only closing brace", `RESULT: } oops`, true, "fallback"},
		{"malformed json", `RESULT: {"summary": }`, true, "fallback"},
		{"empty object", `RESULT: {} trailing`, false, ""},
		{"empty input", ``, true, "fallback"},
		{"brace before marker", `{x} RESULT: {"summary":"after"}`, false, "after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := e.Extract(tt.raw)
			require.NotNil(t, p.Data)
			assert.Equal(t, tt.degraded, p.Degraded)
			if tt.degraded {
				assert.NotEmpty(t, p.Error)
				assert.Equal(t, p.Error, p.Data["error"])
			}
			if tt.summary != "" {
				assert.Equal(t, tt.summary, p.Data["summary"])
			}
		})
	}
}

func TestExtractUsesFirstMarker(t *testing.T) {
	e := NewResponseExtractor("RESULT:", testFallback)
	p := e.Extract(`RESULT: {"summary":"first"} and again RESULT: {"summary":"second"}`)
	// First brace to last brace spans both objects, which is not valid JSON.
	assert.True(t, p.Degraded)

	p = e.Extract(`intro RESULT: {"summary":"first","note":"the RESULT: marker"}`)
	assert.False(t, p.Degraded)
	assert.Equal(t, "first", p.Data["summary"])
}

func TestExtractWithoutFallback(t *testing.T) {
	p := NewResponseExtractor("RESULT:", nil).Extract("garbage")
	assert.True(t, p.Degraded)
	assert.Equal(t, map[string]any{"error": p.Error}, p.Data)
}

func TestProse(t *testing.T) {
	e := NewResponseExtractor("RESULT:", nil)
	assert.Equal(t, "Here you go.", e.Prose("  Here you go.\nRESULT: {}"))
	assert.Equal(t, "no marker", e.Prose("no marker "))
	assert.True(t, e.HasMarker("x RESULT: y"))
	assert.False(t, e.HasMarker("result: y"))
	assert.Equal(t, "RESULT:", e.Marker())
}

func TestFallbackPayloadsAreComplete(t *testing.T) {
	career := NewResponseExtractor(DiscoverMarker, careerFallback).Extract("no marker")
	assert.True(t, career.Degraded)
	assert.NotEmpty(t, career.Data["suggestions"])

	resume := NewResponseExtractor(ResumeMarker, resumeFallback).Extract("no marker")
	assert.True(t, resume.Degraded)
	assert.NotEmpty(t, resume.Data["improvements"])
	assert.Contains(t, resume.Data, "overallScore")
}
