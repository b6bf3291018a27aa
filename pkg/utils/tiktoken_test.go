package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("models/gemini-2.5-pro")
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Greater(t, counter.CountTokens("def parse(tokens): return tokens"), 3)

	short := counter.CountTokens("hello")
	long := counter.CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}

func TestNilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 2, counter.CountTokens("12345678"))
}

func TestCountTokensSimple(t *testing.T) {
	assert.Greater(t, CountTokensSimple("The quick brown fox jumps over the lazy dog."), 5)
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	text := strings.Repeat("alpha beta gamma delta ", 100)
	assert.True(t, counter.ValidateTokenLimit(text, 10_000))
	assert.False(t, counter.ValidateTokenLimit(text, 10))

	truncated := counter.TruncateToTokenLimit(text, 20)
	assert.Less(t, len(truncated), len(text))
	assert.True(t, strings.HasSuffix(truncated, "..."))
	assert.Equal(t, "short", counter.TruncateToTokenLimit("short", 20))
}
