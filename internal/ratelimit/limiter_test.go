package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenDeny(t *testing.T) {
	l := New(0.001, 2)

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"), "third call within burst window should be throttled")
}

func TestBucketsAreIndependentPerUser(t *testing.T) {
	l := New(0.001, 1)

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-2"), "a different user must have their own bucket")
	assert.False(t, l.Allow("user-1"))
}
