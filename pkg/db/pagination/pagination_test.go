package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID        string
	CreatedAt time.Time
}

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "abc", CreatedAt: "2024-01-01T00:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "abc", cursor.ID)
}

func TestPageReportsMore(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []*row{{"c", now}, {"b", now.Add(-time.Minute)}, {"a", now.Add(-2 * time.Minute)}}

	page, info := Page(items, 2, func(r *row) (string, time.Time) { return r.ID, r.CreatedAt })
	assert.Len(t, page, 2)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "b", cursor.ID)

	page, info = Page(items, 5, func(r *row) (string, time.Time) { return r.ID, r.CreatedAt })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestSizeBounds(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 10_000}.Size())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Size())
}
