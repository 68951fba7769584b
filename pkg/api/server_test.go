// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/adunit/pkg/analytics"
	"github.com/luxfi/adunit/pkg/config"
	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/layout"
	"github.com/luxfi/adunit/pkg/tracking"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AllowedOrigins = nil
	cfg.MinViewTime = 30 * time.Millisecond
	cfg.MinVideoViewTime = 60 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func newTestServer() (*Server, *gin.Engine) {
	s := NewServer(testConfig(), nil)
	return s, s.Router()
}

func do(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHealth(t *testing.T) {
	require := require.New(t)
	_, router := newTestServer()

	w := do(router, http.MethodGet, "/health", nil)
	require.Equal(http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal("healthy", body["status"])
	require.Equal(config.Version, body["version"])
}

func TestLayoutEndpoint(t *testing.T) {
	_, router := newTestServer()

	tests := []struct {
		name   string
		body   string
		status int
		check  func(*require.Assertions, layout.Plan)
	}{
		{
			name:   "medium rectangle",
			body:   `{"width":300,"height":250,"title":"Summer sale","description":"Everything must go this weekend","ctaPresent":true}`,
			status: http.StatusOK,
			check: func(r *require.Assertions, p layout.Plan) {
				r.Equal(layout.Display, p.Kind)
				r.NotNil(p.Display)
				r.Equal(layout.Stacked, p.Display.Kind)
				r.InDelta(250, p.Display.ImageHeight+p.Display.ContentHeight, 1e-9)
				r.True(p.Display.Visible.Title)
			},
		},
		{
			name:   "nested dimensions",
			body:   `{"dimensions":{"width":320,"height":50},"title":"Tiny","ctaPresent":true}`,
			status: http.StatusOK,
			check: func(r *require.Assertions, p layout.Plan) {
				r.Equal(layout.Side, p.Display.Kind)
				r.Equal(layout.TextHorizontal, p.Display.TextMode)
			},
		},
		{
			name:   "banner picks closest media",
			body:   `{"kind":"banner","width":728,"height":90,"media":[{"url":"a.png","aspectRatio":"1:1"},{"url":"b.png","width":728,"height":90}]}`,
			status: http.StatusOK,
			check: func(r *require.Assertions, p layout.Plan) {
				r.Nil(p.Display)
				r.NotNil(p.Banner)
				r.Equal(1, p.Banner.MediaIndex)
				r.Equal("b.png", p.Banner.Media.URL)
			},
		},
		{name: "zero width", body: `{"width":0,"height":250}`, status: http.StatusBadRequest},
		{name: "negative height", body: `{"width":300,"height":-1}`, status: http.StatusBadRequest},
		{name: "missing dimensions", body: `{"title":"x"}`, status: http.StatusBadRequest},
		{name: "unknown kind", body: `{"kind":"popup","width":300,"height":250}`, status: http.StatusBadRequest},
		{name: "invalid json", body: `{"width":`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			w := do(router, http.MethodPost, "/api/v1/layout", []byte(tt.body))
			require.Equal(tt.status, w.Code, w.Body.String())
			if tt.check == nil {
				return
			}
			var plan layout.Plan
			require.NoError(json.Unmarshal(w.Body.Bytes(), &plan))
			tt.check(require, plan)
		})
	}
}

type ingestResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   []struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	} `json:"rejected"`
}

func TestEventIngest(t *testing.T) {
	require := require.New(t)
	s, router := newTestServer()

	now := time.Now().UTC()
	imp := tracking.NewEvent("unit-1", now, tracking.ImpressionPayload{RenderTimeMs: 12})
	click := tracking.NewEvent("unit-1", now, tracking.ClickPayload{})

	// single event
	w := do(router, http.MethodPost, "/api/v1/events", mustJSON(t, imp))
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())

	// batch with a duplicate and a bad entry
	batch := []byte(`[` + string(mustJSON(t, click)) + `,` + string(mustJSON(t, imp)) + `,{"eventType":"BOGUS","adUnitId":"x"}]`)
	w = do(router, http.MethodPost, "/api/v1/events", batch)
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())

	var resp ingestResponse
	require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(1, resp.Accepted)
	require.Equal(1, resp.Duplicates)
	require.Len(resp.Rejected, 1)
	require.Equal(2, resp.Rejected[0].Index)

	// nothing usable
	w = do(router, http.MethodPost, "/api/v1/events", []byte(`{"eventType":"CLICK"}`))
	require.Equal(http.StatusBadRequest, w.Code)
	w = do(router, http.MethodPost, "/api/v1/events", []byte(`[]`))
	require.Equal(http.StatusBadRequest, w.Code)
	w = do(router, http.MethodPost, "/api/v1/events", nil)
	require.Equal(http.StatusBadRequest, w.Code)

	require.Equal(uint64(2), s.Collector().TotalEvents.Load())
}

func TestReports(t *testing.T) {
	require := require.New(t)
	s, router := newTestServer()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(s.Collector().Ingest(tracking.NewEvent("unit-1", at, tracking.ImpressionPayload{})))
	require.NoError(s.Collector().Ingest(tracking.NewEvent("unit-1", at.Add(time.Minute), tracking.ViewPayload{ViewTimeMs: 1000})))

	w := do(router, http.MethodGet, "/api/v1/reports/units/unit-1", nil)
	require.Equal(http.StatusOK, w.Code)

	var body struct {
		Report analytics.UnitReport `json:"report"`
		Events int                  `json:"events"`
	}
	require.NoError(json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal("unit-1", body.Report.AdUnitID)
	require.Equal(uint64(1), body.Report.Views)
	require.InDelta(1.0, body.Report.ViewabilityRate, 1e-9)
	require.Equal(2, body.Events)

	w = do(router, http.MethodGet, "/api/v1/reports/units/unit-1?from="+at.Add(30*time.Second).Format(time.RFC3339), nil)
	require.Equal(http.StatusOK, w.Code)
	require.NoError(json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(1, body.Events)

	w = do(router, http.MethodGet, "/api/v1/reports/units/unit-1?to=yesterday", nil)
	require.Equal(http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/reports/units/missing", nil)
	require.Equal(http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/reports/units", nil)
	require.Equal(http.StatusOK, w.Code)
	require.JSONEq(`{"units":["unit-1"]}`, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/reports/summary", nil)
	require.Equal(http.StatusOK, w.Code)
	var summary map[string]any
	require.NoError(json.Unmarshal(w.Body.Bytes(), &summary))
	require.EqualValues(2, summary["total_events"])
	require.EqualValues(1, summary["units"])
}

const auctionResponse = `{"data":{"id":"resp-1","seatbid":[{"bid":[{"id":"bid-7","impid":"1","price":2.5,"w":300,"h":250,"ext":{"creativeUrl":"https://cdn.example.com/c.jpg","ctaUrl":"www.shop.example.com","creativeTitle":"Summer sale","type":"image"}}]}]}}`

func creativeBody(t *testing.T, slot map[string]string, body string, w, h float64) []byte {
	return mustJSON(t, map[string]any{"slot": slot, "body": body, "width": w, "height": h})
}

func TestCreativeEndpoint(t *testing.T) {
	_, router := newTestServer()
	display := map[string]string{"data-ad-slot": "s1", "data-buy-type": "AUCTION", "data-slot-type": "display"}

	tests := []struct {
		name   string
		body   []byte
		status int
	}{
		{"no bid", creativeBody(t, display, `{"data":{"id":"r","seatbid":[]}}`, 300, 250), http.StatusNoContent},
		{"missing click url", creativeBody(t, display, `{"data":{"id":"r","seatbid":[{"bid":[{"id":"b","impid":"1","price":1,"ext":{"creativeUrl":"x"}}]}]}}`, 300, 250), http.StatusUnprocessableEntity},
		{"missing ad space", creativeBody(t, map[string]string{"data-buy-type": "AUCTION"}, auctionResponse, 300, 250), http.StatusBadRequest},
		{"missing body", []byte(`{"slot":{"data-ad-slot":"s1"}}`), http.StatusBadRequest},
		{"invalid json", []byte(`{"slot":`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/creatives", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	t.Run("auction creative with plan", func(t *testing.T) {
		require := require.New(t)

		w := do(router, http.MethodPost, "/api/v1/creatives", creativeBody(t, display, auctionResponse, 300, 250))
		require.Equal(http.StatusOK, w.Code, w.Body.String())

		var resp creativeResponse
		require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(creative.ElementIDPrefix+"s1", resp.ElementID)
		require.Equal("https://www.shop.example.com", resp.Creative.Ad.ClickURL)
		require.Equal("bid-7", resp.Creative.Meta.CampaignID)
		require.NotNil(resp.Plan)
		require.Equal(layout.Display, resp.Plan.Kind)
		require.True(resp.Plan.Display.Visible.Title)
	})

	t.Run("without dimensions", func(t *testing.T) {
		require := require.New(t)

		w := do(router, http.MethodPost, "/api/v1/creatives", creativeBody(t, display, auctionResponse, 0, 0))
		require.Equal(http.StatusOK, w.Code)
		var resp creativeResponse
		require.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		require.Nil(resp.Plan)
	})
}
