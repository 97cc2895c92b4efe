package frame

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRGB_Validation(t *testing.T) {
	_, err := FromRGB(make([]uint8, 10), 2, 2, time.Time{})
	assert.Error(t, err)

	_, err = FromRGB(nil, 0, 4, time.Time{})
	assert.Error(t, err)

	f, err := FromRGB(make([]uint8, 12), 2, 2, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width)
}

func TestMeanRGB(t *testing.T) {
	f := New(10, 10, time.Time{})
	f.Fill(image.Rect(0, 0, 5, 10), 100, 50, 10)
	f.Fill(image.Rect(5, 0, 10, 10), 200, 150, 110)

	r, g, b, n := f.MeanRGB(f.Bounds())
	assert.Equal(t, 100, n)
	assert.InDelta(t, 150, r, 1e-9)
	assert.InDelta(t, 100, g, 1e-9)
	assert.InDelta(t, 60, b, 1e-9)

	r, _, _, n = f.MeanRGB(image.Rect(0, 0, 5, 5))
	assert.Equal(t, 25, n)
	assert.InDelta(t, 100, r, 1e-9)
}

func TestMeanRGB_Clipped(t *testing.T) {
	f := New(4, 4, time.Time{})
	f.Fill(f.Bounds(), 10, 20, 30)

	_, _, _, n := f.MeanRGB(image.Rect(2, 2, 100, 100))
	assert.Equal(t, 4, n)

	_, _, _, n = f.MeanRGB(image.Rect(10, 10, 20, 20))
	assert.Zero(t, n)
}

func TestFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 7, G: 8, B: 9, A: 255})

	f := FromImage(img, time.Unix(1, 0))
	require.Equal(t, 3, f.Width)
	require.Equal(t, 2, f.Height)
	r, g, b := f.RGBAt(1, 1)
	assert.Equal(t, []uint8{7, 8, 9}, []uint8{r, g, b})

	// Frame round-trips through the image.Image interface.
	again := FromImage(f, time.Time{})
	assert.Equal(t, f.Pix, again.Pix)
}

func TestGray(t *testing.T) {
	f := New(2, 1, time.Time{})
	f.Set(0, 0, 255, 255, 255)
	gray := f.Gray()
	require.Len(t, gray, 2)
	assert.InDelta(t, 255, gray[0], 1e-9)
	assert.Zero(t, gray[1])
}

func TestRGBAt_OutOfBounds(t *testing.T) {
	f := New(2, 2, time.Time{})
	f.Set(-1, 0, 1, 2, 3)
	r, g, b := f.RGBAt(5, 5)
	assert.Zero(t, r+g+b)
	assert.True(t, (*Frame)(nil).Empty())
	assert.False(t, f.Empty())
}
