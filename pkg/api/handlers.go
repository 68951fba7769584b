// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luxfi/adunit/pkg/analytics"
	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/layout"
	"github.com/luxfi/adunit/pkg/tracking"
)

var (
	errBadDimensions = errors.New("width and height must be positive")
	errBadKind       = errors.New("kind must be display or banner")
	errNoEvents      = errors.New("no events in body")
)

// layoutRequest accepts the container size either nested or top level
type layoutRequest struct {
	layout.Request
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

func (s *Server) handleLayout(c *gin.Context) {
	var req layoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Width != nil {
		req.Dimensions.Width = *req.Width
	}
	if req.Height != nil {
		req.Dimensions.Height = *req.Height
	}
	if !positive(req.Dimensions.Width) || !positive(req.Dimensions.Height) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errBadDimensions.Error()})
		return
	}
	switch req.Kind {
	case "":
		req.Kind = layout.Display
	case layout.Display, layout.Banner:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": errBadKind.Error()})
		return
	}

	c.JSON(http.StatusOK, s.computeLayout(req.Request))
}

// computeLayout runs the layout engine with the configured fitting constants
func (s *Server) computeLayout(req layout.Request) layout.Plan {
	start := time.Now()
	plan := layout.ComputeWithTuning(req, s.cfg.FitTuning())
	s.metrics.LayoutComputed(string(plan.Kind), time.Since(start))
	return plan
}

// creativeRequest is a slot's data-* attributes plus the ad server response
type creativeRequest struct {
	Slot   map[string]string `json:"slot" binding:"required"`
	Body   string            `json:"body" binding:"required"`
	Width  float64           `json:"width"`
	Height float64           `json:"height"`
}

type creativeResponse struct {
	ElementID string             `json:"elementId"`
	Creative  *creative.Creative `json:"creative"`
	Plan      *layout.Plan       `json:"plan,omitempty"`
}

func (s *Server) handleCreative(c *gin.Context) {
	var req creativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slot, err := creative.ParseSlot(req.Slot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cr, err := creative.Parse(slot, []byte(req.Body), time.Now())
	switch {
	case errors.Is(err, creative.ErrNoBid):
		c.Status(http.StatusNoContent)
		return
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	resp := creativeResponse{ElementID: slot.ElementID(), Creative: cr}
	if positive(req.Width) && positive(req.Height) {
		plan := s.computeLayout(cr.LayoutRequest(layout.Dimensions{Width: req.Width, Height: req.Height}))
		resp.Plan = &plan
	}
	c.JSON(http.StatusOK, resp)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

type rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (s *Server) handleEvents(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, decodeErrs, err := decodeEvents(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted, duplicates := 0, 0
	rejected := make([]rejection, 0)
	for i, e := range events {
		if decodeErrs[i] != nil {
			rejected = append(rejected, rejection{Index: i, Error: decodeErrs[i].Error()})
			continue
		}
		switch err := s.collector.Ingest(e); {
		case err == nil:
			accepted++
		case errors.Is(err, analytics.ErrDuplicateEvent):
			duplicates++
		default:
			rejected = append(rejected, rejection{Index: i, Error: err.Error()})
		}
	}

	status := http.StatusAccepted
	if accepted == 0 && duplicates == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"accepted":   accepted,
		"duplicates": duplicates,
		"rejected":   rejected,
	})
}

// decodeEvents reads a single event or an array of events. Entries of an
// array that fail to decode are reported per index.
func decodeEvents(body []byte) ([]tracking.Event, []error, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil, errNoEvents
	}

	if body[0] != '[' {
		var e tracking.Event
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, nil, err
		}
		return []tracking.Event{e}, []error{nil}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, errNoEvents
	}
	events := make([]tracking.Event, len(raw))
	errs := make([]error, len(raw))
	for i, r := range raw {
		errs[i] = json.Unmarshal(r, &events[i])
	}
	return events, errs, nil
}

func (s *Server) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.GetRealTimeMetrics())
}

func (s *Server) handleUnits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": s.collector.Units()})
}

func (s *Server) handleUnitReport(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}

	report, err := s.collector.GetUnitReport(c.Param("id"), analytics.TimeRange{Start: from, End: to})
	switch {
	case errors.Is(err, analytics.ErrUnitNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"report": report,
		"events": len(report.Events),
	})
}
