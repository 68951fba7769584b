// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package creative extracts renderable ads and their tracking metadata from
// ad server responses.
package creative

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/shopspring/decimal"

	"github.com/luxfi/adunit/pkg/layout"
)

var (
	ErrNoBid           = errors.New("no bid in response")
	ErrMissingClickURL = errors.New("creative has no click url")
	ErrMissingAdSpace  = errors.New("slot has no ad space id")
	ErrMissingBuyType  = errors.New("slot has no buy type")
)

const (
	// ElementIDPrefix prefixes the id of the element an ad renders into
	ElementIDPrefix = "adgeist_ads_iframe_"

	DefaultTitle       = "Ad Title"
	DefaultDescription = "Ad Description"
)

// BuyType is how the slot's inventory was sold
type BuyType string

const (
	// Fixed buys are direct campaigns served without an auction
	Fixed BuyType = "FIXED"
	// Auction is any programmatic buy
	Auction BuyType = "AUCTION"
)

func (b BuyType) IsFixed() bool { return strings.EqualFold(string(b), string(Fixed)) }

// SlotType is the kind of placement
type SlotType string

const (
	BannerSlot    SlotType = "banner"
	DisplaySlot   SlotType = "display"
	VideoSlot     SlotType = "video"
	RichMediaSlot SlotType = "richmedia"
)

// Slot is an ad placement declared on a page
type Slot struct {
	AdSpaceID  string   `json:"adSpaceId"`
	BuyType    BuyType  `json:"buyType"`
	Responsive bool     `json:"responsive"`
	Type       SlotType `json:"slotType"`
}

// ParseSlot reads the data-* attributes of a slot element
func ParseSlot(attrs map[string]string) (Slot, error) {
	s := Slot{
		AdSpaceID:  strings.TrimSpace(attrs["data-ad-slot"]),
		BuyType:    BuyType(strings.TrimSpace(attrs["data-buy-type"])),
		Responsive: attrs["data-responsive"] != "false",
		Type:       SlotType(strings.TrimSpace(attrs["data-slot-type"])),
	}
	if s.Type == "" {
		s.Type = BannerSlot
	}
	if s.AdSpaceID == "" {
		return s, ErrMissingAdSpace
	}
	if s.BuyType == "" {
		return s, fmt.Errorf("slot %s: %w", s.AdSpaceID, ErrMissingBuyType)
	}
	return s, nil
}

// ElementID is the id of the element the slot's ad renders into
func (s Slot) ElementID() string {
	return ElementIDPrefix + s.AdSpaceID
}

// LayoutKind maps the slot to a layout plan variant
func (s Slot) LayoutKind() layout.CreativeKind {
	if s.Type == BannerSlot {
		return layout.Banner
	}
	return layout.Display
}

// Ad is everything needed to render a creative
type Ad struct {
	CreativeURL  string   `json:"creativeUrl"`
	ClickURL     string   `json:"clickUrl"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	AltText      string   `json:"altText,omitempty"`
	ScriptURL    string   `json:"scriptUrl,omitempty"`
	BrandName    string   `json:"brandName,omitempty"`
	MediaType    string   `json:"mediaType"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	Type         SlotType `json:"type"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
}

// Video reports whether the creative is a video
func (a Ad) Video() bool { return a.MediaType == "video" }

// Media returns the layout media option of the ad
func (a Ad) Media() layout.MediaOption {
	return layout.MediaOption{URL: a.CreativeURL, Width: a.Width, Height: a.Height}
}

// BidMetadata identifies the winning bid for event attribution
type BidMetadata struct {
	ResponseID  string          `json:"responseId"`
	TrackID     string          `json:"trackId"`
	CampaignID  string          `json:"campaignId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	MetaData    json.RawMessage `json:"metaData,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// Creative is a parsed ad bound to its slot
type Creative struct {
	Slot Slot        `json:"slot"`
	Ad   Ad          `json:"ad"`
	Meta BidMetadata `json:"meta"`
}

// LayoutRequest builds the layout input for the creative in a container
func (c *Creative) LayoutRequest(dims layout.Dimensions) layout.Request {
	return layout.Request{
		Kind:        c.Slot.LayoutKind(),
		Dimensions:  dims,
		Title:       c.Ad.Title,
		Description: c.Ad.Description,
		CTAPresent:  c.Ad.ClickURL != "",
		Responsive:  c.Slot.Responsive,
		Media:       []layout.MediaOption{c.Ad.Media()},
	}
}

// Parse decodes a response body according to the slot's buy type. XML bodies
// are VAST documents whatever the buy type.
func Parse(slot Slot, body []byte, now time.Time) (*Creative, error) {
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		return ParseVAST(slot, body)
	}
	if slot.BuyType.IsFixed() {
		return ParseFixed(slot, body)
	}
	return ParseAuction(slot, body, now)
}

type auctionEnvelope struct {
	Data *openrtb2.BidResponse `json:"data"`
}

// auctionExt is the creative carried in bid.ext
type auctionExt struct {
	CreativeURL         string `json:"creativeUrl"`
	CTAURL              string `json:"ctaUrl"`
	CreativeTitle       string `json:"creativeTitle"`
	CreativeDescription string `json:"creativeDescription"`
	BrandName           string `json:"brandName"`
	Type                string `json:"type"`
	ThumbnailURL        string `json:"thumbnailUrl"`
	ScriptURL           string `json:"scriptUrl"`
	Creatives           []struct {
		AltText string `json:"altText"`
	} `json:"creatives"`
}

// ParseAuction reads the first bid of a programmatic response wrapped in a
// data envelope.
func ParseAuction(slot Slot, body []byte, now time.Time) (*Creative, error) {
	var env auctionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode bid response: %w", err)
	}
	resp := env.Data
	if resp == nil || len(resp.SeatBid) == 0 || len(resp.SeatBid[0].Bid) == 0 {
		return nil, ErrNoBid
	}
	bid := resp.SeatBid[0].Bid[0]

	var ext auctionExt
	if len(bid.Ext) > 0 {
		if err := json.Unmarshal(bid.Ext, &ext); err != nil {
			return nil, fmt.Errorf("decode bid %s ext: %w", bid.ID, err)
		}
	}

	ad := Ad{
		CreativeURL:  ext.CreativeURL,
		ClickURL:     NormalizeURL(ext.CTAURL),
		Title:        orDefault(ext.CreativeTitle, DefaultTitle),
		Description:  orDefault(ext.CreativeDescription, DefaultDescription),
		ScriptURL:    ext.ScriptURL,
		BrandName:    ext.BrandName,
		MediaType:    orDefault(ext.Type, "image"),
		ThumbnailURL: ext.ThumbnailURL,
		Type:         slot.Type,
		Width:        int(bid.W),
		Height:       int(bid.H),
	}
	if len(ext.Creatives) > 0 {
		ad.AltText = ext.Creatives[0].AltText
	}
	if ad.ClickURL == "" {
		return nil, fmt.Errorf("bid %s: %w", bid.ID, ErrMissingClickURL)
	}

	return &Creative{
		Slot: slot,
		Ad:   ad,
		Meta: BidMetadata{
			ResponseID:  resp.ID,
			TrackID:     resp.ID,
			CampaignID:  bid.ID,
			GeneratedAt: now,
			Price:       decimal.NewFromFloat(bid.Price),
		},
	}, nil
}

type fixedResponse struct {
	ID          string          `json:"id"`
	Signature   string          `json:"signature"`
	CampaignID  string          `json:"campaignId"`
	GeneratedAt string          `json:"generatedAt"`
	MetaData    json.RawMessage `json:"metaData"`
	ScriptURL   string          `json:"scriptUrl"`
	Price       decimal.Decimal `json:"price"`
	Advertiser  struct {
		Name string `json:"name"`
	} `json:"advertiser"`
	Creatives []struct {
		FileURL      string `json:"fileUrl"`
		CTAURL       string `json:"ctaUrl"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		AltText      string `json:"altText"`
		Type         string `json:"type"`
		ThumbnailURL string `json:"thumbnailUrl"`
	} `json:"creatives"`
}

// ParseFixed reads a direct-campaign response
func ParseFixed(slot Slot, body []byte) (*Creative, error) {
	var resp fixedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fixed response: %w", err)
	}
	if len(resp.Creatives) == 0 {
		return nil, ErrNoBid
	}
	c := resp.Creatives[0]

	ad := Ad{
		CreativeURL:  c.FileURL,
		ClickURL:     NormalizeURL(c.CTAURL),
		Title:        c.Title,
		Description:  c.Description,
		AltText:      c.AltText,
		ScriptURL:    resp.ScriptURL,
		BrandName:    resp.Advertiser.Name,
		MediaType:    orDefault(c.Type, "image"),
		ThumbnailURL: c.ThumbnailURL,
		Type:         slot.Type,
	}
	if ad.ClickURL == "" {
		return nil, fmt.Errorf("campaign %s: %w", resp.CampaignID, ErrMissingClickURL)
	}

	return &Creative{
		Slot: slot,
		Ad:   ad,
		Meta: BidMetadata{
			ResponseID:  resp.ID,
			TrackID:     resp.Signature,
			CampaignID:  resp.CampaignID,
			GeneratedAt: parseTime(resp.GeneratedAt),
			MetaData:    resp.MetaData,
			Price:       resp.Price,
		},
	}, nil
}

var schemeRE = regexp.MustCompile(`^[a-zA-Z]+://`)

// NormalizeURL adds https to scheme-less and www. urls
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "www.") || !schemeRE.MatchString(u) {
		return "https://" + u
	}
	return u
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
