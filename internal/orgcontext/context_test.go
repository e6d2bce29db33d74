package orgcontext

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrgIDFromContext(t *testing.T) {
	id, ok := OrgIDFromContext(WithOrgID(context.Background(), 12))
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(12), id)

	id, ok = OrgIDFromContext(context.WithValue(context.Background(), OrgContextKey{}, "34"))
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(34), id)

	id, ok = OrgIDFromContext(context.WithValue(context.Background(), OrgContextKey{}, int64(56)))
	assert.True(t, ok)
	assert.Equal(t, snowflake.ID(56), id)

	_, ok = OrgIDFromContext(WithOrgID(context.Background(), 0))
	assert.False(t, ok)

	_, ok = OrgIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OrgIDFromContext(context.WithValue(context.Background(), OrgContextKey{}, "abc"))
	assert.False(t, ok)

	_, ok = OrgIDFromContext(context.WithValue(context.Background(), OrgContextKey{}, 3.5))
	assert.False(t, ok)
}

func TestRequire(t *testing.T) {
	id, err := Require(WithOrgID(context.Background(), 9), nil)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(9), id)

	_, err = Require(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingOrg)

	own := errors.New("invalid_organization")
	_, err = Require(context.Background(), own)
	assert.ErrorIs(t, err, own)
}
