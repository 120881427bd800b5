package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRangeLimitError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		match bool
	}{
		{
			name:  "nil",
			err:   nil,
			match: false,
		},
		{
			name:  "too many results",
			err:   errors.New("query returned more than 10000 results"),
			match: true,
		},
		{
			name:  "range too wide",
			err:   errors.New("block range is too wide: max is 3000"),
			match: true,
		},
		{
			name:  "max block range",
			err:   errors.New("requests exceed maximum block range: 5000"),
			match: true,
		},
		{
			name:  "response size",
			err:   errors.New("log response size exceeded"),
			match: true,
		},
		{
			name:  "unrelated",
			err:   errors.New("connection refused"),
			match: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.match, IsRangeLimitError(tt.err))
		})
	}
}

func TestIsFatalError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{
			name:  "nil",
			err:   nil,
			fatal: false,
		},
		{
			name:  "auth failure",
			err:   errors.New("401 unauthorized: invalid api key"),
			fatal: true,
		},
		{
			name:  "malformed request",
			err:   errors.New("invalid argument 0: hex string without 0x prefix"),
			fatal: true,
		},
		{
			name:  "transient timeout",
			err:   errors.New("request timeout"),
			fatal: false,
		},
		{
			name:  "rate limit",
			err:   errors.New("429 too many requests"),
			fatal: false,
		},
		{
			name:  "range limit",
			err:   errors.New("query returned more than 10000 results"),
			fatal: false,
		},
		{
			name:  "fatal wrapper around transient message",
			err:   &fatalError{err: errors.New("timeout")},
			fatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.fatal, IsFatalError(tt.err))
		})
	}
}

func TestParseSuggestedBlockRange(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantFrom uint64
		wantTo   uint64
		wantOK   bool
	}{
		{
			name:     "standard message",
			input:    "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
			wantFrom: 0x7dfd25,
			wantTo:   0x7e0fcc,
			wantOK:   true,
		},
		{
			name:   "no range",
			input:  "query returned more than 20000 results",
			wantOK: false,
		},
		{
			name:   "empty",
			input:  "",
			wantOK: false,
		},
		{
			name:   "malformed range",
			input:  "try with [banana, apple]",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, ok := ParseSuggestedBlockRange(tt.input)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				require.Equal(t, tt.wantFrom, from)
				require.Equal(t, tt.wantTo, to)
			}
		})
	}
}

func TestIsTagUnsupportedError(t *testing.T) {
	require.True(t, IsTagUnsupportedError(errors.New("safe block not found")))
	require.True(t, IsTagUnsupportedError(errors.New("finalized block not found")))
	require.True(t, IsTagUnsupportedError(errors.New("Unknown block")))
	require.True(t, IsTagUnsupportedError(errors.New("method not supported")))
	require.False(t, IsTagUnsupportedError(errors.New("connection refused")))
	require.False(t, IsTagUnsupportedError(nil))
}
