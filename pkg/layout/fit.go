// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import "math"

const (
	// CTA box used for the first estimate and for the horizontal-mode skip rule
	ctaBoxHeight = 40.0
	ctaBoxWidth  = 100.0
	ctaMargin    = 16.0

	splitGutter = 16.0

	minTextAreaWidth = 10.0

	charWidthFactor = 0.6
	boldFactor      = 1.1
	lineHeight      = 1.4
	ctaLineHeight   = 1.2
	ctaVPadding     = 12.0

	// maxCharsPerScaleUnit keeps very wide columns from blowing up the scale
	maxCharsPerScaleUnit = 7.0
)

// FitTuning holds the heuristic constants of the fitting search
type FitTuning struct {
	// AcceptScale is the smallest scale a configuration is accepted at
	AcceptScale float64
	// NoCTAAcceptScale applies to the title+description configuration
	NoCTAAcceptScale float64
	// ShrinkFactor multiplies the scale on every failed retry
	ShrinkFactor float64
	// MaxRetries bounds the shrink loop
	MaxRetries int
}

// DefaultFitTuning returns the production fitting constants
func DefaultFitTuning() FitTuning {
	return FitTuning{
		AcceptScale:      0.75,
		NoCTAAcceptScale: 0.35,
		ShrinkFactor:     0.9,
		MaxRetries:       10,
	}
}

func (t FitTuning) sanitize() FitTuning {
	d := DefaultFitTuning()
	if t.ShrinkFactor <= 0 || t.ShrinkFactor >= 1 {
		t.ShrinkFactor = d.ShrinkFactor
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	return t
}

// Fit is the typography chosen for the content area
type Fit struct {
	Mode      TextMode
	Scale     float64
	TitleSize float64
	BodySize  float64
	CTASize   float64
	Visible   Visibility
	Padding   Padding
	Fits      bool
}

// spacing is the padding tier for a container
type spacing struct {
	padY float64
	padX float64
	gap  float64
}

func spacingFor(dims Dimensions) spacing {
	s := spacing{gap: 4}
	switch {
	case dims.Height < 60:
		s.padY, s.gap = 8, 2
	case dims.Height < 150:
		s.padY = 16
	case dims.Height < 350:
		s.padY = 20
	default:
		s.padY = 32
	}
	s.padX = 32
	if dims.Width < 200 {
		s.padX = 16
	}
	return s
}

// EstimateTextHeight approximates the rendered height of a text block
func EstimateTextHeight(chars int, size float64, bold bool, width float64) float64 {
	if width < minTextAreaWidth || math.IsNaN(width) {
		width = minTextAreaWidth
	}
	charWidth := size * charWidthFactor
	if bold {
		charWidth *= boldFactor
	}
	lines := math.Max(1, math.Ceil(float64(chars)*charWidth/width))
	return lines * size * lineHeight
}

type fitter struct {
	content     ContentSpec
	mode        TextMode
	textWidth   float64
	availHeight float64
	gap         float64
	tuning      FitTuning
}

type attempt struct {
	show  Visibility
	fits  bool
	scale float64
	steps []float64
}

// FitContent finds the largest legible scale for the content area left by geom
func FitContent(dims Dimensions, geom Geometry, content ContentSpec, tuning FitTuning) Fit {
	dims = dims.Normalize()
	space := spacingFor(dims)

	mode := TextColumn
	if !geom.Stacked() && geom.ContentWidth > 480 {
		mode = TextSplit
	} else if dims.Height < 90 {
		mode = TextHorizontal
	}

	textWidth := math.Max(minTextAreaWidth, geom.ContentWidth-space.padX)
	switch mode {
	case TextHorizontal:
		textWidth -= ctaBoxWidth
	case TextSplit:
		textWidth = (geom.ContentWidth - space.padX - splitGutter) / 2
	}
	textWidth = math.Max(minTextAreaWidth, textWidth)

	f := &fitter{
		content:     content,
		mode:        mode,
		textWidth:   textWidth,
		availHeight: geom.ContentHeight - space.padY,
		gap:         space.gap,
		tuning:      tuning.sanitize(),
	}

	best, ok := f.search(geom.ContentHeight)
	if !ok {
		best = f.try(Visibility{Title: true})
	}

	scale := clampScale(best.scale)
	return Fit{
		Mode:      mode,
		Scale:     scale,
		TitleSize: math.Max(MinTitleSize, BaseTitleSize*scale),
		BodySize:  math.Max(MinBodySize, BaseBodySize*scale),
		CTASize:   math.Max(MinCTASize, BaseCTASize*scale),
		Visible:   best.show,
		Padding:   Padding{Vertical: space.padY / 2, Horizontal: space.padX / 2},
		Fits:      best.fits,
	}
}

// candidates lists configurations in priority order, without elements the
// content does not have. Split mode never shows the CTA.
func (f *fitter) candidates() []Visibility {
	all := []Visibility{
		{Title: true, Description: true, CTA: true},
		{Title: true, Description: true},
		{Title: true},
		{Title: true, CTA: true},
	}

	out := make([]Visibility, 0, len(all))
	seen := make(map[Visibility]bool, len(all))
	for _, v := range all {
		if f.content.DescriptionLength <= 0 {
			v.Description = false
		}
		if !f.content.CTAPresent || f.mode == TextSplit {
			v.CTA = false
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (f *fitter) search(contentHeight float64) (attempt, bool) {
	var best attempt
	found := false

	for _, show := range f.candidates() {
		if show.CTA && f.mode == TextHorizontal && contentHeight < ctaBoxHeight {
			continue
		}

		r := f.try(show)
		if !r.fits {
			continue
		}

		threshold := f.tuning.AcceptScale
		if show.Description && !show.CTA {
			threshold = f.tuning.NoCTAAcceptScale
		}
		if r.scale >= threshold {
			return r, true
		}

		if !found || r.scale > best.scale {
			best = r
			found = true
		}
	}

	return best, found
}

// try shrinks a configuration from its heuristic start scale until it fits
func (f *fitter) try(show Visibility) attempt {
	target := 1.0
	if base := f.heightAtBase(show); base > 0 {
		ratio := f.availHeight / base
		if ratio > 0 {
			target = math.Sqrt(ratio)
		} else {
			target = MinFontScale
		}
	}

	maxScale := math.Min(MaxFontScale, f.textWidth/maxCharsPerScaleUnit/BaseTitleSize)
	scale := math.Max(MinFontScale, math.Min(maxScale, target))

	r := attempt{show: show}
	for i := 0; i <= f.tuning.MaxRetries; i++ {
		r.steps = append(r.steps, scale)
		if f.fitsAt(show, scale) {
			r.fits = true
			break
		}
		if i < f.tuning.MaxRetries {
			scale *= f.tuning.ShrinkFactor
		}
	}
	r.scale = scale
	return r
}

func (f *fitter) heightAtBase(show Visibility) float64 {
	var title, body float64
	if show.Title {
		title = EstimateTextHeight(f.content.TitleLength, BaseTitleSize, true, f.textWidth)
	}
	if show.Description {
		body = EstimateTextHeight(f.content.DescriptionLength, BaseBodySize, false, f.textWidth)
	}

	if f.mode == TextSplit {
		col1 := 0.0
		if show.Title {
			col1 = title + f.gap
		}
		return math.Max(col1, body)
	}

	h := title + body
	if show.Title && show.Description {
		h += f.gap
	}
	if show.CTA && f.mode != TextHorizontal {
		h += ctaMargin + ctaBoxHeight
	}
	return h
}

func (f *fitter) fitsAt(show Visibility, scale float64) bool {
	var title, body float64
	if show.Title {
		title = EstimateTextHeight(f.content.TitleLength, math.Max(MinTitleSize, BaseTitleSize*scale), true, f.textWidth)
	}
	if show.Description {
		body = EstimateTextHeight(f.content.DescriptionLength, math.Max(MinBodySize, BaseBodySize*scale), false, f.textWidth)
	}

	if f.mode == TextSplit {
		col1, col2 := 0.0, 0.0
		if show.Title {
			col1 = title + f.gap
		}
		if show.Description {
			col2 = body
		}
		return col1 <= f.availHeight && col2 <= f.availHeight
	}

	needed := title + body
	if show.Title && show.Description {
		needed += f.gap
	}
	if show.CTA && f.mode != TextHorizontal {
		ctaSize := math.Max(MinCTASize, BaseCTASize*scale)
		needed += ctaMargin + ctaSize*ctaLineHeight + ctaVPadding
	}
	return needed <= f.availHeight
}

func clampScale(s float64) float64 {
	if math.IsNaN(s) {
		return MinFontScale
	}
	return math.Max(MinFontScale, math.Min(MaxFontScale, s))
}
