// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectBanner(t *testing.T) {
	media := []MediaOption{
		{URL: "https://cdn.example.com/wide.jpg", AspectRatio: "16:9"},
		{URL: "https://cdn.example.com/square.jpg", AspectRatio: "1:1"},
		{URL: "https://cdn.example.com/tall.jpg", Width: 900, Height: 1600},
	}

	tests := []struct {
		name  string
		dims  Dimensions
		media []MediaOption
		want  int
	}{
		{name: "square container", dims: Dimensions{300, 300}, media: media, want: 1},
		{name: "leaderboard", dims: Dimensions{728, 90}, media: media, want: 0},
		{name: "skyscraper", dims: Dimensions{300, 600}, media: media, want: 2},
		{name: "degenerate container", dims: Dimensions{0, 0}, media: media, want: 0},
		{name: "single option", dims: Dimensions{300, 600}, media: media[:1], want: 0},
		{
			name: "unparsable skipped",
			dims: Dimensions{728, 90},
			media: []MediaOption{
				{URL: "a", AspectRatio: "wide"},
				{URL: "b", AspectRatio: "4/1"},
			},
			want: 1,
		},
		{name: "empty", dims: Dimensions{300, 250}, media: nil, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			b := SelectBanner(tt.dims, tt.media)
			require.Equal(tt.want, b.MediaIndex)
			if tt.want >= 0 {
				require.Equal(tt.media[tt.want].URL, b.Media.URL)
			}
		})
	}
}

func TestSelectBannerDefaultRatio(t *testing.T) {
	require := require.New(t)

	b := SelectBanner(Dimensions{300, 250}, []MediaOption{{URL: "x"}})
	require.Equal(MediaAspectRatio, b.Ratio)
}

func TestParseAspectRatio(t *testing.T) {
	require := require.New(t)

	r, ok := ParseAspectRatio("16:9")
	require.True(ok)
	require.InDelta(16.0/9.0, r, 1e-12)

	r, ok = ParseAspectRatio(" 1.91 ")
	require.True(ok)
	require.Equal(1.91, r)

	for _, bad := range []string{"", "x:y", "0:1", "-2", "1:0"} {
		_, ok = ParseAspectRatio(bad)
		require.False(ok, bad)
	}
}

func TestComputeDispatch(t *testing.T) {
	require := require.New(t)

	display := Compute(Request{
		Dimensions:  Dimensions{300, 250},
		Title:       "Summer sale",
		Description: "Everything 30% off",
		CTAPresent:  true,
	})
	require.Equal(Display, display.Kind)
	require.NotNil(display.Display)
	require.Nil(display.Banner)

	banner := Compute(Request{
		Kind:       Banner,
		Dimensions: Dimensions{320, 50},
		Responsive: true,
		Media:      []MediaOption{{URL: "https://cdn.example.com/b.png", AspectRatio: "32:5"}},
	})
	require.Equal(Banner, banner.Kind)
	require.Nil(banner.Display)
	require.NotNil(banner.Banner)
	require.True(banner.Banner.Responsive)

	raw, err := json.Marshal(banner)
	require.NoError(err)
	require.NotContains(string(raw), `"display"`)
	require.Contains(string(raw), `"banner"`)
}
