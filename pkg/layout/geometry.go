// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import "math"

const (
	// MediaAspectRatio is the width:height ratio media is laid out at
	MediaAspectRatio = 1.91

	// MinTextBand is the smallest text band that still allows a stacked layout
	MinTextBand = 40.0

	// MinContentShare is the share of the height kept for content in stacked layouts
	MinContentShare = 0.35

	// MicroBandHeight marks banners too short to give the image its natural width
	MicroBandHeight = 70.0

	// MicroImageShare caps the image width of micro banners
	MicroImageShare = 0.2

	// MinTextWidth and MinTextShare bound the text column of side layouts
	MinTextWidth = 110.0
	MinTextShare = 0.45

	minDimension = 1.0
)

// Geometry is the media placement chosen for a container
type Geometry struct {
	Kind          Kind
	ImageWidth    float64
	ImageHeight   float64
	ContentWidth  float64
	ContentHeight float64
	FlexDirection string
}

// Stacked reports whether media sits above the content
func (g Geometry) Stacked() bool {
	return g.Kind == Stacked
}

// SolveGeometry decides between stacked and side-by-side placement
func SolveGeometry(dims Dimensions) Geometry {
	dims = dims.Normalize()
	width, height := dims.Width, dims.Height

	imageHeight := width / MediaAspectRatio
	remaining := height - imageHeight

	if remaining >= MinTextBand {
		minContent := height * MinContentShare
		if remaining < minContent {
			imageHeight = height - minContent
		}
		return Geometry{
			Kind:          Stacked,
			ImageWidth:    width,
			ImageHeight:   imageHeight,
			ContentWidth:  width,
			ContentHeight: height - imageHeight,
			FlexDirection: "column",
		}
	}

	imgH := height
	imgW := imgH * MediaAspectRatio

	if height < MicroBandHeight {
		imgW = math.Min(imgW, width*MicroImageShare)
	}

	// text keeps max(110px, 45%) of the width
	maxImgW := width - math.Max(MinTextWidth, width*MinTextShare)
	if imgW > maxImgW {
		imgW = math.Max(0, maxImgW)
		imgH = height
	}

	return Geometry{
		Kind:          Side,
		ImageWidth:    imgW,
		ImageHeight:   imgH,
		ContentWidth:  width - imgW,
		ContentHeight: height,
		FlexDirection: "row",
	}
}

// Normalize clamps non-finite or non-positive sides to a usable minimum
func (d Dimensions) Normalize() Dimensions {
	return Dimensions{Width: clampDimension(d.Width), Height: clampDimension(d.Height)}
}

func clampDimension(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < minDimension {
		return minDimension
	}
	return v
}
