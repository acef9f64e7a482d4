package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 0, FloorDiv(15, 16))
	assert.Equal(t, 1, FloorDiv(16, 16))
	assert.Equal(t, -1, FloorDiv(-1, 16))
	assert.Equal(t, -1, FloorDiv(-16, 16))
	assert.Equal(t, -2, FloorDiv(-17, 16))
}

func TestHash3_StableAndSpread(t *testing.T) {
	assert.Equal(t, Hash3(42, 1, 2, 3), Hash3(42, 1, 2, 3))
	assert.NotEqual(t, Hash3(42, 1, 2, 3), Hash3(42, 3, 2, 1))
	assert.NotEqual(t, Hash3(42, 1, 2, 3), Hash3(43, 1, 2, 3))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5, 0, 15))
	assert.Equal(t, 15, Clamp(99, 0, 15))
	assert.Equal(t, 7, Clamp(7, 0, 15))
}
