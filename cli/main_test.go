package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSwipe(t *testing.T) {
	id, dir, ok := parseSwipe("y r1")
	assert.True(t, ok)
	assert.Equal(t, "r1", id)
	assert.Equal(t, "right", dir)

	_, dir, ok = parseSwipe("N r2")
	assert.True(t, ok)
	assert.Equal(t, "left", dir)

	_, _, ok = parseSwipe("maybe r3")
	assert.False(t, ok)
	_, _, ok = parseSwipe("y")
	assert.False(t, ok)
}
