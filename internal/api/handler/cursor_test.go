package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCursor_RoundTrip(t *testing.T) {
	cursor := &store.HistoryCursor{
		CreatedAt: time.Date(2024, 3, 9, 12, 30, 0, 123456000, time.UTC),
		JobID:     "5f0e4a1c-9a51-4c8e-8a43-3b3c1c6a9f10",
	}

	decoded, err := DecodeHistoryCursor(EncodeHistoryCursor(cursor))
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeHistoryCursor_Invalid(t *testing.T) {
	encode := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "!!!"},
		{name: "missing separator", cursor: encode("12345")},
		{name: "missing id", cursor: encode("12345|")},
		{name: "bad timestamp", cursor: encode("yesterday|abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHistoryCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}

func TestDecodeHistoryCursor_Empty(t *testing.T) {
	cursor, err := DecodeHistoryCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestValidJobID(t *testing.T) {
	assert.True(t, validJobID("5f0e4a1c-9a51-4c8e-8a43-3b3c1c6a9f10"))
	assert.False(t, validJobID(""))
	assert.False(t, validJobID("../uploads"))
}
