package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionalTime(t *testing.T) {
	got, err := parseOptionalTime("", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseOptionalTime("2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseOptionalTime("2024-02-29", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 999999999, time.UTC), *got)

	got, err = parseOptionalTime("2024-03-01T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), *got)

	_, err = parseOptionalTime("March 1st", false)
	assert.ErrorIs(t, err, errInvalidTime)
}

func TestParseOptionalScalars(t *testing.T) {
	b, err := parseOptionalBool(" true ")
	require.NoError(t, err)
	assert.True(t, *b)

	_, err = parseOptionalBool("maybe")
	assert.Error(t, err)

	d, err := parseOptionalDecimal("12.50")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.String())

	d, err = parseOptionalDecimal("  ")
	require.NoError(t, err)
	assert.Nil(t, d)
}
