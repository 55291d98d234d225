package snsctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(ctx, false)))
}

func TestPeriod(t *testing.T) {
	ctx := context.Background()
	_, ok := Period(ctx)
	assert.False(t, ok)

	p, ok := Period(SetPeriod(SetVerbose(ctx, true), 42))
	assert.True(t, ok)
	assert.Equal(t, uint64(42), p)
}
