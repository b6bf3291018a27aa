package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"parser", "parser"},
		{"Token Stream", "token_stream"},
		{"http-client/v2", "http_client_v2"},
		{"  spaced  ", "spaced"},
		{"9lives", "m_9lives"},
		{"---", "module"},
		{"", "module"},
		{"a::b", "a_b"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeIdentifier(tt.input))
		})
	}
}
