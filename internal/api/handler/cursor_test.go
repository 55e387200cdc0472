package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowx/scoring-job/internal/api/storage"
)

func TestScoreCursor_RoundTrip(t *testing.T) {
	in := &storage.ScoreCursor{
		CreatedAt: time.Date(2026, 3, 1, 2, 0, 0, 123456789, time.UTC),
		ID:        981,
	}

	out, err := DecodeScoreCursor(EncodeScoreCursor(in))

	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeScoreCursor(t *testing.T) {
	cursor, err := DecodeScoreCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	tests := []struct {
		name  string
		input string
	}{
		{name: "not base64", input: "%%%"},
		{name: "missing separator", input: base64.URLEncoding.EncodeToString([]byte("12345"))},
		{name: "bad timestamp", input: base64.URLEncoding.EncodeToString([]byte("abc|1"))},
		{name: "bad id", input: base64.URLEncoding.EncodeToString([]byte("12345|xyz"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeScoreCursor(tt.input)
			assert.Error(t, err)
		})
	}
}
