package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("WAGEWATCH_TEST_KEY", "set")
	assert.Equal(t, "set", getEnvWithDefault("WAGEWATCH_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvWithDefault("WAGEWATCH_TEST_MISSING", "fallback"))
}

func TestParseOTLPHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "empty",
			raw:  "",
			want: map[string]string{},
		},
		{
			name: "single pair",
			raw:  "x-api-key=abc",
			want: map[string]string{"x-api-key": "abc"},
		},
		{
			name: "multiple with whitespace",
			raw:  " x-api-key = abc , x-team = data ",
			want: map[string]string{"x-api-key": "abc", "x-team": "data"},
		},
		{
			name: "malformed pairs skipped",
			raw:  "novalue,=orphan,good=1",
			want: map[string]string{"good": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOTLPHeaders(tt.raw))
		})
	}
}
