package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPow2(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{480, 512},
		{640, 1024},
		{1024, 1024},
		{1025, 2048},
		{1920, 2048},
		{4096, 4096},
		{8000, 8192},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextPow2(tt.in), "NextPow2(%d)", tt.in)
	}
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, 3, Coalesce(0, 0, 3, 4))
	assert.Equal(t, "", Coalesce[string]())
	assert.Equal(t, "a", Coalesce("", "a"))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, ClampInt(-1, 0, 10))
	assert.Equal(t, 10, ClampInt(11, 0, 10))
	assert.Equal(t, 5, ClampInt(5, 0, 10))
}

func TestRect(t *testing.T) {
	r := Rect{X: 2, Y: 3, Width: 4, Height: 5}
	assert.False(t, r.Empty())
	assert.True(t, Rect{}.Empty())
	assert.Equal(t, 20, r.Area())
	assert.Equal(t, Rect{X: 2, Y: 3, Width: 2, Height: 1}, r.Intersect(Rect{Width: 4, Height: 4}))
}
