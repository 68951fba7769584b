// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeLayoutInvariants(t *testing.T) {
	widths := []float64{1, 50, 120, 200, 300, 320, 468, 728, 970, 1200}
	heights := []float64{1, 30, 50, 60, 90, 150, 250, 350, 600, 1000}
	contents := []ContentSpec{
		{TitleLength: 0, DescriptionLength: 0, CTAPresent: false},
		{TitleLength: 12, DescriptionLength: 0, CTAPresent: true},
		{TitleLength: 30, DescriptionLength: 90, CTAPresent: true},
		{TitleLength: 80, DescriptionLength: 400, CTAPresent: true},
		{TitleLength: 25, DescriptionLength: 140, CTAPresent: false},
	}

	for _, w := range widths {
		for _, h := range heights {
			for _, c := range contents {
				name := fmt.Sprintf("%vx%v/%d-%d-%v", w, h, c.TitleLength, c.DescriptionLength, c.CTAPresent)
				t.Run(name, func(t *testing.T) {
					require := require.New(t)
					plan := ComputeLayout(Dimensions{Width: w, Height: h}, c)

					require.GreaterOrEqual(plan.FontScale, MinFontScale)
					require.LessOrEqual(plan.FontScale, MaxFontScale)
					require.GreaterOrEqual(plan.TitleFontSize, MinTitleSize)
					require.GreaterOrEqual(plan.BodyFontSize, MinBodySize)
					require.GreaterOrEqual(plan.CTAFontSize, MinCTASize)
					require.True(plan.Visible.Title)
					require.GreaterOrEqual(plan.ImageWidth, 0.0)
					require.GreaterOrEqual(plan.ContentWidth, 0.0)

					if c.DescriptionLength == 0 {
						require.False(plan.Visible.Description)
					}
					if !c.CTAPresent {
						require.False(plan.Visible.CTA)
					}

					switch plan.Kind {
					case Stacked:
						require.InDelta(h, plan.ImageHeight+plan.ContentHeight, 1e-9)
						require.Equal("column", plan.FlexDirection)
					case Side:
						require.InDelta(w, plan.ImageWidth+plan.ContentWidth, 1e-9)
						require.Equal("row", plan.FlexDirection)
					default:
						t.Fatalf("unexpected kind %q", plan.Kind)
					}
				})
			}
		}
	}
}

func TestComputeLayoutMediumRectangle(t *testing.T) {
	require := require.New(t)

	plan := ComputeLayout(Dimensions{Width: 300, Height: 250}, ContentSpec{TitleLength: 30, DescriptionLength: 90, CTAPresent: true})

	require.Equal(Stacked, plan.Kind)
	require.InDelta(250.0, plan.ImageHeight+plan.ContentHeight, 1e-9)
	require.GreaterOrEqual(plan.ContentHeight, 250*MinContentShare)
	require.InDelta(300/MediaAspectRatio, plan.ImageHeight, 1e-9)
}

func TestComputeLayoutContentShareFloor(t *testing.T) {
	require := require.New(t)

	// 400/1.91 leaves 50px, below 35% of 250
	plan := ComputeLayout(Dimensions{Width: 400, Height: 250}, ContentSpec{TitleLength: 20, DescriptionLength: 60, CTAPresent: true})

	require.Equal(Stacked, plan.Kind)
	require.InDelta(250*MinContentShare, plan.ContentHeight, 1e-9)
	require.InDelta(250*(1-MinContentShare), plan.ImageHeight, 1e-9)
}

func TestComputeLayoutMobileBanner(t *testing.T) {
	require := require.New(t)

	plan := ComputeLayout(Dimensions{Width: 320, Height: 50}, ContentSpec{TitleLength: 20, DescriptionLength: 40, CTAPresent: true})

	require.Equal(Side, plan.Kind)
	require.LessOrEqual(plan.ImageWidth, 320*MicroImageShare)
	require.Equal(50.0, plan.ImageHeight)
	require.Equal(TextHorizontal, plan.TextMode)
}

func TestComputeLayoutSideTextFloor(t *testing.T) {
	require := require.New(t)

	// 200x100: natural image width 191 leaves 9px of text
	plan := ComputeLayout(Dimensions{Width: 200, Height: 100}, ContentSpec{TitleLength: 10, CTAPresent: true})

	require.Equal(Side, plan.Kind)
	require.InDelta(200-MinTextWidth, plan.ImageWidth, 1e-9)
	require.Equal(100.0, plan.ImageHeight)
	require.GreaterOrEqual(plan.ContentWidth, MinTextWidth)
}

func TestComputeLayoutTallCreativeShowsEverything(t *testing.T) {
	require := require.New(t)

	plan := ComputeLayout(Dimensions{Width: 300, Height: 600}, ContentSpec{TitleLength: 30, DescriptionLength: 90, CTAPresent: true})

	require.Equal(Stacked, plan.Kind)
	require.Equal(TextColumn, plan.TextMode)
	require.Equal(Visibility{Title: true, Description: true, CTA: true}, plan.Visible)
	require.Greater(plan.FontScale, 1.0)
	require.Equal(Padding{Vertical: 16, Horizontal: 16}, plan.Padding)
}

func TestComputeLayoutSplitHidesCTA(t *testing.T) {
	require := require.New(t)

	plan := ComputeLayout(Dimensions{Width: 970, Height: 250}, ContentSpec{TitleLength: 30, DescriptionLength: 120, CTAPresent: true})

	require.Equal(Side, plan.Kind)
	require.Equal(TextSplit, plan.TextMode)
	require.False(plan.Visible.CTA)
}

func TestComputeLayoutShortHorizontalSkipsCTA(t *testing.T) {
	require := require.New(t)

	plan := ComputeLayout(Dimensions{Width: 300, Height: 30}, ContentSpec{TitleLength: 10, CTAPresent: true})

	require.Equal(TextHorizontal, plan.TextMode)
	require.Less(plan.ContentHeight, ctaBoxHeight)
	require.False(plan.Visible.CTA)
}

func TestComputeLayoutEmptyDescription(t *testing.T) {
	require := require.New(t)

	for _, dims := range []Dimensions{{300, 250}, {728, 90}, {320, 50}, {300, 600}} {
		plan := ComputeLayout(dims, ContentSpec{TitleLength: 24, DescriptionLength: 0, CTAPresent: true})
		require.False(plan.Visible.Description, "%+v", dims)
	}
}

func TestComputeLayoutDegenerateDimensions(t *testing.T) {
	tests := []struct {
		name string
		dims Dimensions
	}{
		{name: "zero", dims: Dimensions{}},
		{name: "negative", dims: Dimensions{Width: -10, Height: -5}},
		{name: "nan", dims: Dimensions{Width: math.NaN(), Height: math.NaN()}},
		{name: "inf", dims: Dimensions{Width: math.Inf(1), Height: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			plan := ComputeLayout(tt.dims, ContentSpec{TitleLength: 10, DescriptionLength: 20, CTAPresent: true})

			require.False(math.IsNaN(plan.FontScale))
			require.GreaterOrEqual(plan.FontScale, MinFontScale)
			require.GreaterOrEqual(plan.TitleFontSize, MinTitleSize)
			require.False(math.IsNaN(plan.ImageWidth))
			require.False(math.IsNaN(plan.ContentHeight))
		})
	}
}

func TestComputeLayoutDeterministic(t *testing.T) {
	require := require.New(t)

	dims := Dimensions{Width: 728, Height: 90}
	content := ContentFor("Fast shipping on everything", "Order today and get it tomorrow, anywhere in the country.", true)

	require.Equal(ComputeLayout(dims, content), ComputeLayout(dims, content))
}

func TestFitterShrinksMonotonically(t *testing.T) {
	require := require.New(t)

	f := &fitter{
		content:     ContentSpec{TitleLength: 200, DescriptionLength: 400, CTAPresent: true},
		mode:        TextColumn,
		textWidth:   100,
		availHeight: 60,
		gap:         4,
		tuning:      DefaultFitTuning(),
	}

	r := f.try(Visibility{Title: true, Description: true, CTA: true})
	require.False(r.fits)
	require.Len(r.steps, DefaultFitTuning().MaxRetries+1)
	for i := 1; i < len(r.steps); i++ {
		require.Less(r.steps[i], r.steps[i-1])
		require.InDelta(r.steps[i-1]*0.9, r.steps[i], 1e-12)
	}
}

func TestFitContentForcesTitleWhenNothingFits(t *testing.T) {
	require := require.New(t)

	dims := Dimensions{Width: 100, Height: 20}
	geom := SolveGeometry(dims)
	fit := FitContent(dims, geom, ContentSpec{TitleLength: 300, DescriptionLength: 900, CTAPresent: true}, DefaultFitTuning())

	require.False(fit.Fits)
	require.Equal(Visibility{Title: true}, fit.Visible)
	require.Equal(MinFontScale, fit.Scale)
}

func TestComputeLayoutWithTuning(t *testing.T) {
	require := require.New(t)

	dims := Dimensions{Width: 300, Height: 250}
	content := ContentSpec{TitleLength: 60, DescriptionLength: 300, CTAPresent: true}

	strict := DefaultFitTuning()
	strict.AcceptScale = 2.5
	strict.NoCTAAcceptScale = 2.5

	plan := ComputeLayoutWithTuning(dims, content, strict)
	require.GreaterOrEqual(plan.FontScale, MinFontScale)
	require.True(plan.Visible.Title)

	bad := FitTuning{ShrinkFactor: 2, MaxRetries: -1}
	plan = ComputeLayoutWithTuning(dims, content, bad)
	require.GreaterOrEqual(plan.FontScale, MinFontScale)
}

func TestEstimateTextHeight(t *testing.T) {
	require := require.New(t)

	require.InDelta(16*1.4, EstimateTextHeight(0, 16, false, 100), 1e-9)
	// 20 chars * 9.6px = 192px over 100px = 2 lines
	require.InDelta(2*16*1.4, EstimateTextHeight(20, 16, false, 100), 1e-9)
	require.Greater(EstimateTextHeight(20, 16, true, 96), EstimateTextHeight(20, 16, false, 96))
	require.False(math.IsInf(EstimateTextHeight(10, 16, false, 0), 0))
}
