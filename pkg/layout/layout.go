// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package layout computes size-adaptive rendering plans for ad creatives.
//
// Everything in this package is pure: the same container and content always
// produce the same plan, and nothing here touches the rendering surface.
package layout

// Kind is the media placement of a plan
type Kind string

const (
	Stacked Kind = "stacked"
	Side    Kind = "side"
)

// TextMode describes how the text block is arranged inside the content area
type TextMode string

const (
	// TextColumn stacks title, description and CTA vertically
	TextColumn TextMode = "column"
	// TextHorizontal places the text block and the CTA on one row
	TextHorizontal TextMode = "horizontal"
	// TextSplit shows title and description in two columns without a CTA
	TextSplit TextMode = "split"
)

const (
	BaseTitleSize = 16.0
	BaseBodySize  = 14.0
	BaseCTASize   = 14.0

	MinTitleSize = 14.0
	MinBodySize  = 12.0
	MinCTASize   = 12.0

	MinFontScale = 0.1
	MaxFontScale = 2.5
)

// Dimensions of the container in pixels
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ContentSpec carries character counts used for size estimation
type ContentSpec struct {
	TitleLength       int  `json:"titleLength"`
	DescriptionLength int  `json:"descriptionLength"`
	CTAPresent        bool `json:"ctaPresent"`
}

// ContentFor builds a ContentSpec from live text
func ContentFor(title, description string, cta bool) ContentSpec {
	return ContentSpec{
		TitleLength:       len([]rune(title)),
		DescriptionLength: len([]rune(description)),
		CTAPresent:        cta,
	}
}

// Visibility lists which text elements the renderer should paint
type Visibility struct {
	Title       bool `json:"title"`
	Description bool `json:"description"`
	CTA         bool `json:"cta"`
}

// Padding around the content area
type Padding struct {
	Vertical   float64 `json:"vertical"`
	Horizontal float64 `json:"horizontal"`
}

// LayoutPlan is the immutable output handed to the renderer
type LayoutPlan struct {
	Kind          Kind       `json:"layoutKind"`
	ImageWidth    float64    `json:"imageWidth"`
	ImageHeight   float64    `json:"imageHeight"`
	ContentWidth  float64    `json:"contentWidth"`
	ContentHeight float64    `json:"contentHeight"`
	FlexDirection string     `json:"flexDirection"`
	TextMode      TextMode   `json:"textMode"`
	FontScale     float64    `json:"fontScale"`
	TitleFontSize float64    `json:"titleFontSize"`
	BodyFontSize  float64    `json:"bodyFontSize"`
	CTAFontSize   float64    `json:"ctaFontSize"`
	Visible       Visibility `json:"visible"`
	Padding       Padding    `json:"contentAreaPadding"`
}

// ComputeLayout returns the rendering plan for content inside a container
func ComputeLayout(dims Dimensions, content ContentSpec) LayoutPlan {
	return ComputeLayoutWithTuning(dims, content, DefaultFitTuning())
}

// ComputeLayoutWithTuning is ComputeLayout with custom fitting constants
func ComputeLayoutWithTuning(dims Dimensions, content ContentSpec, tuning FitTuning) LayoutPlan {
	dims = dims.Normalize()
	geom := SolveGeometry(dims)
	fit := FitContent(dims, geom, content, tuning)

	return LayoutPlan{
		Kind:          geom.Kind,
		ImageWidth:    geom.ImageWidth,
		ImageHeight:   geom.ImageHeight,
		ContentWidth:  geom.ContentWidth,
		ContentHeight: geom.ContentHeight,
		FlexDirection: geom.FlexDirection,
		TextMode:      fit.Mode,
		FontScale:     fit.Scale,
		TitleFontSize: fit.TitleSize,
		BodyFontSize:  fit.BodySize,
		CTAFontSize:   fit.CTASize,
		Visible:       fit.Visible,
		Padding:       fit.Padding,
	}
}
