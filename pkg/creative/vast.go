// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package creative

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// VAST is the subset of a VAST 4.x document needed to render an inline
// linear video ad.
type VAST struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Ads     []VASTAd `xml:"Ad"`
}

type VASTAd struct {
	ID     string      `xml:"id,attr"`
	InLine *VASTInLine `xml:"InLine"`
}

type VASTInLine struct {
	AdSystem    string     `xml:"AdSystem"`
	AdTitle     string     `xml:"AdTitle"`
	Description string     `xml:"Description"`
	Advertiser  string     `xml:"Advertiser"`
	Pricing     *Pricing   `xml:"Pricing"`
	Creatives   []VASTItem `xml:"Creatives>Creative"`
}

// Pricing information
type Pricing struct {
	Model    string `xml:"model,attr"`
	Currency string `xml:"currency,attr"`
	Value    string `xml:",chardata"`
}

type VASTItem struct {
	ID     string  `xml:"id,attr"`
	Linear *Linear `xml:"Linear"`
}

// Linear video ad
type Linear struct {
	Duration     string      `xml:"Duration"`
	MediaFiles   []MediaFile `xml:"MediaFiles>MediaFile"`
	ClickThrough string      `xml:"VideoClicks>ClickThrough"`
}

// MediaFile represents a video file
type MediaFile struct {
	Delivery string `xml:"delivery,attr"`
	Type     string `xml:"type,attr"`
	Width    int    `xml:"width,attr"`
	Height   int    `xml:"height,attr"`
	URL      string `xml:",chardata"`
}

// Playable reports whether the file can be used by a browser video element
func (m MediaFile) Playable() bool {
	if strings.TrimSpace(m.URL) == "" {
		return false
	}
	switch m.Type {
	case "video/mp4", "video/webm", "video/ogg":
		return true
	}
	return false
}

// ParseVAST reads the first inline linear ad of a VAST document
func ParseVAST(slot Slot, data []byte) (*Creative, error) {
	var doc VAST
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode vast: %w", err)
	}

	for _, ad := range doc.Ads {
		if ad.InLine == nil {
			continue
		}
		for _, item := range ad.InLine.Creatives {
			if item.Linear == nil {
				continue
			}
			file, ok := pickMediaFile(item.Linear.MediaFiles)
			if !ok {
				continue
			}
			return vastCreative(slot, ad, item.Linear, file)
		}
	}
	return nil, ErrNoBid
}

func vastCreative(slot Slot, ad VASTAd, lin *Linear, file MediaFile) (*Creative, error) {
	in := ad.InLine
	c := &Creative{
		Slot: slot,
		Ad: Ad{
			CreativeURL: strings.TrimSpace(file.URL),
			ClickURL:    NormalizeURL(lin.ClickThrough),
			Title:       strings.TrimSpace(in.AdTitle),
			Description: strings.TrimSpace(in.Description),
			BrandName:   strings.TrimSpace(in.Advertiser),
			MediaType:   "video",
			Type:        slot.Type,
			Width:       file.Width,
			Height:      file.Height,
		},
		Meta: BidMetadata{
			ResponseID: ad.ID,
			TrackID:    ad.ID,
			CampaignID: ad.ID,
		},
	}
	if in.Pricing != nil {
		if p, err := decimal.NewFromString(strings.TrimSpace(in.Pricing.Value)); err == nil {
			c.Meta.Price = p
		}
	}
	if c.Ad.ClickURL == "" {
		return nil, fmt.Errorf("vast ad %s: %w", ad.ID, ErrMissingClickURL)
	}
	return c, nil
}

// pickMediaFile prefers the largest progressive mp4
func pickMediaFile(files []MediaFile) (MediaFile, bool) {
	var best MediaFile
	found := false
	for _, f := range files {
		if !f.Playable() {
			continue
		}
		if !found || score(f) > score(best) {
			best, found = f, true
		}
	}
	return best, found
}

func score(f MediaFile) int {
	s := f.Width * f.Height
	if f.Type == "video/mp4" {
		s += 1 << 30
	}
	if f.Delivery == "progressive" {
		s += 1 << 29
	}
	return s
}
