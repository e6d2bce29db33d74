package pagination

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorKeys(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 123, time.FixedZone("PST", -8*3600))
	token, err := EncodeCursor(NewCursor(snowflake.ID(42), at))
	require.NoError(t, err)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	id, createdAt, err := decoded.Keys()
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), id)
	assert.True(t, createdAt.Equal(at))

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, _, err = Cursor{ID: "0", CreatedAt: "2024-03-01T10:00:00Z"}.Keys()
	assert.ErrorIs(t, err, ErrInvalidCursor)
	_, _, err = Cursor{ID: "42", CreatedAt: "yesterday"}.Keys()
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestClampSize(t *testing.T) {
	assert.Equal(t, 20, ClampSize(0, 20, 100))
	assert.Equal(t, 20, ClampSize(-3, 20, 100))
	assert.Equal(t, 7, ClampSize(7, 20, 100))
	assert.Equal(t, 100, ClampSize(500, 20, 100))
}

func TestBuildCursorPageInfo(t *testing.T) {
	items := []*int{new(int), new(int), new(int)}
	*items[1] = 7

	info := BuildCursorPageInfo(items, 2, func(v *int) string {
		if *v == 7 {
			return "second"
		}
		return "other"
	})
	assert.True(t, info.HasMore)
	assert.Equal(t, "second", info.NextPageToken)

	info = BuildCursorPageInfo(items, 3, func(*int) string { return "x" })
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
