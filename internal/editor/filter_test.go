package editor

import (
	"image/color"
	"testing"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestFilterChainIdentityIsExact(t *testing.T) {
	chain := newFilterChain(domain.IdentityFilters())

	for _, c := range []color.NRGBA{
		{R: 0, G: 0, B: 0, A: 255},
		{R: 255, G: 255, B: 255, A: 255},
		{R: 12, G: 200, B: 99, A: 128},
		{R: 254, G: 1, B: 127, A: 0},
	} {
		assert.Equal(t, c, chain.apply(c))
	}
}

func TestFilterChainOrderMatters(t *testing.T) {
	f := domain.IdentityFilters()
	f.Grayscale = 100
	f.Sepia = 100
	fixed := newFilterChain(f)

	swapped := make(filterChain, len(fixed))
	copy(swapped, fixed)
	swapped[3], swapped[4] = swapped[4], swapped[3]

	red := color.NRGBA{R: 255, A: 255}
	grayThenSepia := fixed.apply(red)
	sepiaThenGray := swapped.apply(red)

	assert.NotEqual(t, grayThenSepia, sepiaThenGray)
	// Sepia after grayscale tints; grayscale last leaves no chroma.
	assert.Greater(t, grayThenSepia.R, grayThenSepia.B)
	assert.Equal(t, sepiaThenGray.R, sepiaThenGray.G)
	assert.Equal(t, sepiaThenGray.G, sepiaThenGray.B)
}

func TestFilterChainStages(t *testing.T) {
	tests := []struct {
		name    string
		filters func(*domain.Filters)
		in      color.NRGBA
		want    color.NRGBA
	}{
		{
			name:    "brightness zero is black",
			filters: func(f *domain.Filters) { f.Brightness = 0 },
			in:      color.NRGBA{R: 90, G: 180, B: 30, A: 255},
			want:    color.NRGBA{A: 255},
		},
		{
			name:    "brightness doubles and clamps",
			filters: func(f *domain.Filters) { f.Brightness = 200 },
			in:      color.NRGBA{R: 100, G: 180, B: 30, A: 200},
			want:    color.NRGBA{R: 200, G: 255, B: 60, A: 200},
		},
		{
			name:    "contrast zero is mid gray",
			filters: func(f *domain.Filters) { f.Contrast = 0 },
			in:      color.NRGBA{R: 10, G: 250, B: 0, A: 255},
			want:    color.NRGBA{R: 128, G: 128, B: 128, A: 255},
		},
		{
			name:    "saturation zero keeps luma",
			filters: func(f *domain.Filters) { f.Saturation = 0 },
			in:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			want:    color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		},
		{
			name:    "full sepia on white",
			filters: func(f *domain.Filters) { f.Sepia = 100 },
			in:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
			want:    color.NRGBA{R: 255, G: 255, B: 239, A: 255},
		},
		{
			name:    "grayscale clamps above one hundred",
			filters: func(f *domain.Filters) { f.Grayscale = 150 },
			in:      color.NRGBA{R: 255, A: 255},
			want:    color.NRGBA{R: 54, G: 54, B: 54, A: 255},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := domain.IdentityFilters()
			tc.filters(&f)
			assert.Equal(t, tc.want, newFilterChain(f).apply(tc.in))
		})
	}
}
