package renderer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBinder struct {
	calls []bool
	fail  bool
}

func (r *recordingBinder) MakeCurrent(hw bool) error {
	r.calls = append(r.calls, hw)
	if r.fail && hw {
		return errors.New("driver refused")
	}
	return nil
}

func TestContextGuardAlternates(t *testing.T) {
	binder := &recordingBinder{}
	g := NewContextGuard(binder)

	restore, err := g.EnterHW()
	require.NoError(t, err)
	assert.True(t, g.InHW())

	_, err = g.EnterHW()
	require.ErrorIs(t, err, ErrContextViolation)

	require.NoError(t, restore())
	require.NoError(t, restore())
	assert.False(t, g.InHW())
	assert.Equal(t, []bool{true, false}, binder.calls)
}

func TestContextGuardBindFailure(t *testing.T) {
	g := NewContextGuard(&recordingBinder{fail: true})
	_, err := g.EnterHW()
	require.ErrorIs(t, err, ErrContextViolation)
	assert.False(t, g.InHW())
}

func TestVideoContextWarnOnce(t *testing.T) {
	v := NewVideoContext(NewSoftwareBackend())
	assert.True(t, v.WarnOnce("float_framebuffer", "float framebuffers unavailable"))
	assert.False(t, v.WarnOnce("float_framebuffer", "float framebuffers unavailable"))
	assert.True(t, v.WarnOnce("srgb_framebuffer", "sRGB framebuffers unavailable"))
	assert.True(t, v.Warned("float_framebuffer"))
	assert.False(t, v.Warned("mipmaps"))
}

func TestPixelLayoutPitch(t *testing.T) {
	assert.Equal(t, 12, PixelLayout{}.Pitch(3))
	assert.Equal(t, 16, PixelLayout{RowAlignment: 8}.Pitch(3))
	assert.Equal(t, 256, PixelLayout{RowAlignment: 256}.Pitch(1))
	assert.Equal(t, 2560, PixelLayout{RowAlignment: 256}.Pitch(640))
}
