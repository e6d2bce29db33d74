package correlation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	assert.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))

	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, same)
	assert.Equal(t, cid, ExtractCorrelationID(again))
}

func TestContextWithCorrelationID_IgnoresBlank(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "  ")
	assert.Empty(t, ExtractCorrelationID(ctx))
}

func TestChild(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "loop")

	runCtx, id := Child(ctx, "1234")
	assert.Equal(t, "loop/1234", id)
	assert.Equal(t, "loop", Root(runCtx))
	assert.Equal(t, "loop", ExtractCorrelationID(ctx))

	_, nested := Child(runCtx, "/visit-9/")
	assert.Equal(t, "loop/1234/visit-9", nested)

	_, orphan := Child(context.Background(), "run-1")
	assert.Equal(t, "run-1", orphan)

	_, minted := Child(context.Background(), "")
	assert.Len(t, minted, 26)
	assert.False(t, strings.Contains(minted, Separator))
}
