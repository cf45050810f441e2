package diag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnID(t *testing.T) {
	ctx := WithConnID(context.Background(), "abc")
	assert.Equal(t, "abc", ConnID(ctx))
	assert.Empty(t, ConnID(context.Background()))

	inner := WithConnID(ctx, "def")
	assert.Equal(t, "def", ConnID(inner))
	assert.Equal(t, "abc", ConnID(ctx), "parent context is not changed")
}
