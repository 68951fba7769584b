// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import (
	"math"
	"strconv"
	"strings"
)

// CreativeKind selects the plan variant
type CreativeKind string

const (
	// Display creatives carry media, title, description and CTA
	Display CreativeKind = "display"
	// Banner creatives are media only
	Banner CreativeKind = "banner"
)

// MediaOption is one media rendition offered by a creative
type MediaOption struct {
	URL         string `json:"url"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Ratio returns the width:height ratio of the option
func (m MediaOption) Ratio() (float64, bool) {
	if m.AspectRatio != "" {
		return ParseAspectRatio(m.AspectRatio)
	}
	if m.Width > 0 && m.Height > 0 {
		return float64(m.Width) / float64(m.Height), true
	}
	return 0, false
}

// ParseAspectRatio accepts "16:9", "16/9" or a plain number
func ParseAspectRatio(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, sep := range []string{":", "/"} {
		if w, h, ok := strings.Cut(s, sep); ok {
			wf, err1 := strconv.ParseFloat(strings.TrimSpace(w), 64)
			hf, err2 := strconv.ParseFloat(strings.TrimSpace(h), 64)
			if err1 != nil || err2 != nil || wf <= 0 || hf <= 0 {
				return 0, false
			}
			return wf / hf, true
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Request is the input of Compute
type Request struct {
	Kind        CreativeKind  `json:"kind"`
	Dimensions  Dimensions    `json:"dimensions"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	CTAPresent  bool          `json:"ctaPresent"`
	Responsive  bool          `json:"responsive"`
	Media       []MediaOption `json:"media,omitempty"`
}

// BannerPlan is the plan of a media-only creative
type BannerPlan struct {
	Media      MediaOption `json:"media"`
	MediaIndex int         `json:"mediaIndex"`
	Ratio      float64     `json:"ratio"`
	Responsive bool        `json:"responsive"`
}

// Plan carries exactly one of Display or Banner
type Plan struct {
	Kind       CreativeKind `json:"kind"`
	Dimensions Dimensions   `json:"dimensions"`
	Display    *LayoutPlan  `json:"display,omitempty"`
	Banner     *BannerPlan  `json:"banner,omitempty"`
}

// Compute dispatches on the creative kind
func Compute(req Request) Plan {
	return ComputeWithTuning(req, DefaultFitTuning())
}

// ComputeWithTuning is Compute with custom fitting constants
func ComputeWithTuning(req Request, tuning FitTuning) Plan {
	dims := req.Dimensions.Normalize()

	switch req.Kind {
	case Banner:
		b := SelectBanner(dims, req.Media)
		b.Responsive = req.Responsive
		return Plan{Kind: Banner, Dimensions: dims, Banner: &b}
	default:
		p := ComputeLayoutWithTuning(dims, ContentFor(req.Title, req.Description, req.CTAPresent), tuning)
		return Plan{Kind: Display, Dimensions: dims, Display: &p}
	}
}

// SelectBanner picks the media whose ratio is closest to the container's
func SelectBanner(dims Dimensions, media []MediaOption) BannerPlan {
	if len(media) == 0 {
		return BannerPlan{MediaIndex: -1, Ratio: MediaAspectRatio}
	}

	first := BannerPlan{Media: media[0], MediaIndex: 0, Ratio: MediaAspectRatio}
	if r, ok := media[0].Ratio(); ok {
		first.Ratio = r
	}
	if len(media) == 1 {
		return first
	}

	raw := dims
	if raw.Width <= minDimension || raw.Height <= minDimension {
		return first
	}
	target := raw.Width / raw.Height

	best := -1
	bestDiff := math.Inf(1)
	bestRatio := 0.0
	for i, m := range media {
		r, ok := m.Ratio()
		if !ok {
			continue
		}
		if d := math.Abs(r - target); d < bestDiff {
			best, bestDiff, bestRatio = i, d, r
		}
	}
	if best < 0 {
		return first
	}
	return BannerPlan{Media: media[best], MediaIndex: best, Ratio: bestRatio}
}
