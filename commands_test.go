package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	t.Run("Omitted end defaults to now", func(t *testing.T) {
		before := time.Now().UTC()
		w, err := parseWindow("", "")
		require.NoError(t, err)
		assert.Nil(t, w.Start)
		require.NotNil(t, w.End)
		assert.False(t, w.End.Before(before))
		assert.False(t, w.End.After(time.Now().UTC()))
	})

	t.Run("End covers its whole day", func(t *testing.T) {
		w, err := parseWindow("2024-01-01", "2024-01-31")
		require.NoError(t, err)
		require.NotNil(t, w.Start)
		require.NotNil(t, w.End)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *w.Start)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), *w.End)
	})

	t.Run("Invalid dates", func(t *testing.T) {
		_, err := parseWindow("01.01.2024", "")
		assert.Error(t, err)
		_, err = parseWindow("", "tomorrow")
		assert.Error(t, err)
	})
}
