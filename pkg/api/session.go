// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/luxfi/adunit/pkg/creative"
	"github.com/luxfi/adunit/pkg/delivery"
	"github.com/luxfi/adunit/pkg/layout"
	"github.com/luxfi/adunit/pkg/log"
	"github.com/luxfi/adunit/pkg/page"
	"github.com/luxfi/adunit/pkg/tracking"
)

const (
	sessionQueue   = 256
	maxSignalBytes = 64 << 10

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client signal types
const (
	SignalAttach      = "attach"
	SignalDetach      = "detach"
	SignalRatio       = "ratio"
	SignalBounds      = "bounds"
	SignalLoaded      = "loaded"
	SignalEnter       = "enter"
	SignalLeave       = "leave"
	SignalClick       = "click"
	SignalPlay        = "play"
	SignalPause       = "pause"
	SignalEnded       = "ended"
	SignalProgress    = "progress"
	SignalPageHidden  = "page_hidden"
	SignalPageVisible = "page_visible"
	SignalNavigate    = "navigate"
)

// Server frame types
const (
	FrameSession  = "session"
	FrameCreative = "creative"
	FrameEvent    = "event"
	FrameMedia    = "media"
	FrameRequeue  = "requeue"
	FrameError    = "error"
)

var (
	errUnknownUnit   = errors.New("unknown ad unit")
	errUnknownSignal = errors.New("unknown signal")
	errWrongSource   = errors.New("signal does not match the unit's visibility source")
	errMissingBounds = errors.New("bounds need element and viewport")
	errSlotMismatch  = errors.New("slot attributes name another unit")

	errSessionStopping = errors.New("session stopping")
)

// Signal is a frame sent by the page
type Signal struct {
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`

	// attach
	Kind       tracking.CreativeKind `json:"kind,omitempty"`
	BuyType    creative.BuyType      `json:"buyType,omitempty"`
	CampaignID string                `json:"campaignId,omitempty"`
	Price      decimal.Decimal       `json:"price"`
	Touch      bool                  `json:"touch,omitempty"`
	// Fallback is set when the page has no intersection observer and
	// reports element bounds instead of ratios
	Fallback bool `json:"fallback,omitempty"`
	// Slot and Body carry the slot attributes and the ad server response
	Slot   map[string]string `json:"slot,omitempty"`
	Body   string            `json:"body,omitempty"`
	Width  float64           `json:"width,omitempty"`
	Height float64           `json:"height,omitempty"`

	// bounds
	Element  *tracking.Rect `json:"element,omitempty"`
	Viewport *tracking.Rect `json:"viewport,omitempty"`

	Ratio      float64 `json:"ratio,omitempty"`
	Target     string  `json:"target,omitempty"`
	PositionMs int64   `json:"positionMs,omitempty"`
	DurationMs int64   `json:"durationMs,omitempty"`
}

// Frame is a frame sent to the page
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	Event     *tracking.Event `json:"event,omitempty"`
	Command   string          `json:"command,omitempty"`
	Slots     []creative.Slot `json:"slots,omitempty"`
	Error     string          `json:"error,omitempty"`

	Creative *creative.Creative `json:"creative,omitempty"`
	Plan     *layout.Plan       `json:"plan,omitempty"`
}

// session is one connected page. It owns a page registry whose units are
// attached and driven by the page's signals.
type session struct {
	id       string
	srv      *Server
	conn     *websocket.Conn
	registry *page.Registry
	log      log.Logger

	// sources are only touched by the read loop
	sources  map[string]tracking.Source
	stopping atomic.Bool
	stopOnce sync.Once

	events  chan tracking.Event
	control chan Frame
	done    chan struct{}
	wg      sync.WaitGroup
}

func (s *Server) handleSession(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	id := uuid.NewString()
	sess := &session{
		id:      id,
		srv:     s,
		conn:    conn,
		log:     s.log.With(log.String("sessionId", id)),
		sources: make(map[string]tracking.Source),
		events:  make(chan tracking.Event, sessionQueue),
		control: make(chan Frame, sessionQueue),
		done:    make(chan struct{}),
	}
	sess.registry = page.NewRegistry(sess.log, s.metrics)

	if !s.track(sess) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer s.untrack(sess)

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	sess.log.Debug("tracking session opened")

	sess.push(Frame{Type: FrameSession, SessionID: id})

	sess.wg.Add(1)
	go sess.writeLoop()

	sess.readLoop()

	// flush every unit before the writer stops
	sess.registry.Close()
	close(sess.done)
	sess.wg.Wait()
	conn.Close()
	sess.log.Debug("tracking session closed")
}

// stop flushes the page's units and unblocks the read loop so the session
// winds down through its normal teardown
func (s *session) stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.registry.Close()
		s.conn.SetReadDeadline(time.Now())
	})
}

// extendRead pushes the read deadline out unless the session is stopping.
// The flag is checked after the deadline is set so a concurrent stop always wins.
func (s *session) extendRead() error {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	if s.stopping.Load() {
		return errSessionStopping
	}
	return nil
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxSignalBytes)
	if s.extendRead() != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error { return s.extendRead() })

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read error", log.Error(err))
			}
			return
		}
		if s.extendRead() != nil {
			return
		}

		var sig Signal
		if err := json.Unmarshal(msg, &sig); err != nil {
			s.fail("", fmt.Errorf("decode signal: %w", err))
			continue
		}
		if err := s.handle(sig); err != nil {
			s.fail(sig.Unit, err)
		}
	}
}

func (s *session) handle(sig Signal) error {
	switch sig.Type {
	case SignalAttach:
		return s.attach(sig)
	case SignalDetach:
		if !s.registry.Detach(sig.Unit) {
			return fmt.Errorf("%w: %q", errUnknownUnit, sig.Unit)
		}
		delete(s.sources, sig.Unit)
		return nil
	case SignalPageHidden:
		s.registry.SetPageHidden(true)
		return nil
	case SignalPageVisible:
		s.registry.SetPageHidden(false)
		return nil
	case SignalNavigate:
		if _, err := s.registry.Navigate(); err != nil {
			return err
		}
		s.sources = make(map[string]tracking.Source)
		s.push(Frame{Type: FrameRequeue, Slots: s.registry.Drain()})
		return nil
	case SignalClick:
		if _, ok := s.registry.Unit(sig.Unit); !ok {
			return fmt.Errorf("%w: %q", errUnknownUnit, sig.Unit)
		}
		s.registry.Click(sig.Unit, sig.Target)
		return nil
	}

	u, ok := s.registry.Unit(sig.Unit)
	if !ok {
		if !knownSignal(sig.Type) {
			return fmt.Errorf("%w: %q", errUnknownSignal, sig.Type)
		}
		return fmt.Errorf("%w: %q", errUnknownUnit, sig.Unit)
	}

	tr := u.Tracker
	switch sig.Type {
	case SignalRatio:
		o, ok := s.sources[sig.Unit].(*tracking.ObserverSource)
		if !ok {
			return fmt.Errorf("%w: %q reports bounds", errWrongSource, sig.Unit)
		}
		o.Report(sig.Ratio)
	case SignalBounds:
		p, ok := s.sources[sig.Unit].(*tracking.PollingSource)
		if !ok {
			return fmt.Errorf("%w: %q reports ratios", errWrongSource, sig.Unit)
		}
		if sig.Element == nil || sig.Viewport == nil {
			return errMissingBounds
		}
		p.Update(*sig.Element, *sig.Viewport)
	case SignalLoaded:
		tr.MediaLoaded()
	case SignalEnter:
		tr.PointerEnter()
	case SignalLeave:
		tr.PointerLeave()
	case SignalPlay:
		tr.Play()
	case SignalPause:
		tr.Pause()
	case SignalEnded:
		tr.Ended()
	case SignalProgress:
		tr.Progress(time.Duration(sig.PositionMs)*time.Millisecond, time.Duration(sig.DurationMs)*time.Millisecond)
	default:
		return fmt.Errorf("%w: %q", errUnknownSignal, sig.Type)
	}
	return nil
}

func knownSignal(t string) bool {
	switch t {
	case SignalRatio, SignalBounds, SignalLoaded, SignalEnter, SignalLeave, SignalPlay,
		SignalPause, SignalEnded, SignalProgress:
		return true
	}
	return false
}

func (s *session) attach(sig Signal) error {
	c, err := s.resolve(sig)
	if err != nil {
		return err
	}
	unit := c.Slot.AdSpaceID
	if _, ok := s.registry.Unit(unit); ok {
		return fmt.Errorf("unit %s: %w", unit, page.ErrDuplicateUnit)
	}

	kind := sig.Kind
	if kind == "" {
		kind = tracking.ImageCreative
	}
	if c.Ad.Video() {
		kind = tracking.VideoCreative
	}
	cfg := s.srv.cfg.Tracking(kind)

	sender := delivery.Multi(
		delivery.Channel(s.events, func(tracking.Event) { s.srv.metrics.EventDropped("session_full") }),
		s.srv.collector,
	)
	if s.srv.upstream != nil {
		sender = delivery.Multi(sender, s.srv.upstream(delivery.AttributionFor(c)))
	}

	source := tracking.SelectSource(tracking.Capabilities{IntersectionObserver: !sig.Fallback}, cfg.Threshold, s.srv.sched.Now)
	opts := []tracking.Option{
		tracking.WithScheduler(s.srv.sched),
		tracking.WithLogger(s.log),
		tracking.WithTouch(sig.Touch),
		tracking.WithSource(source),
	}
	var media *remoteMedia
	if kind == tracking.VideoCreative {
		media = &remoteMedia{sess: s, unit: unit}
		opts = append(opts, tracking.WithMedia(media))
	}

	tr := tracking.New(unit, cfg, delivery.Metered(s.srv.metrics, sender), opts...)

	if media != nil {
		_, err = s.registry.Attach(c.Slot, tr, media)
	} else {
		_, err = s.registry.Attach(c.Slot, tr, nil)
	}
	if err != nil {
		tr.Destroy()
		return err
	}
	s.sources[unit] = source
	s.srv.collector.BindCreative(unit, c.Meta)

	if sig.Body != "" {
		f := Frame{Type: FrameCreative, Unit: unit, Creative: c}
		if positive(sig.Width) && positive(sig.Height) {
			plan := s.srv.computeLayout(c.LayoutRequest(layout.Dimensions{Width: sig.Width, Height: sig.Height}))
			f.Plan = &plan
		}
		s.push(f)
	}
	return nil
}

// resolve builds the unit's creative. When the page forwards the ad server
// response it is parsed against the slot attributes.
func (s *session) resolve(sig Signal) (*creative.Creative, error) {
	buy := sig.BuyType
	if buy == "" {
		buy = creative.Auction
	}
	slotType := creative.DisplaySlot
	if sig.Kind == tracking.VideoCreative {
		slotType = creative.VideoSlot
	}

	if sig.Body == "" {
		return &creative.Creative{
			Slot: creative.Slot{AdSpaceID: sig.Unit, BuyType: buy, Type: slotType},
			Meta: creative.BidMetadata{CampaignID: sig.CampaignID, Price: sig.Price},
		}, nil
	}

	attrs := map[string]string{
		"data-ad-slot":   sig.Unit,
		"data-buy-type":  string(buy),
		"data-slot-type": string(slotType),
	}
	for k, v := range sig.Slot {
		attrs[k] = v
	}
	slot, err := creative.ParseSlot(attrs)
	if err != nil {
		return nil, err
	}
	if sig.Unit != "" && slot.AdSpaceID != sig.Unit {
		return nil, fmt.Errorf("%w: %q", errSlotMismatch, slot.AdSpaceID)
	}
	return creative.Parse(slot, []byte(sig.Body), time.Now())
}

func (s *session) fail(unit string, err error) {
	s.push(Frame{Type: FrameError, Unit: unit, Error: err.Error()})
}

// push queues a control frame without blocking
func (s *session) push(f Frame) {
	select {
	case s.control <- f:
	default:
		s.srv.metrics.EventDropped("session_full")
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-s.control:
			if !s.write(f) {
				return
			}
		case e := <-s.events:
			if !s.write(eventFrame(e)) {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain writes what the teardown produced, then says goodbye
func (s *session) drain() {
	for {
		select {
		case f := <-s.control:
			if !s.write(f) {
				return
			}
		case e := <-s.events:
			if !s.write(eventFrame(e)) {
				return
			}
		default:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *session) write(f Frame) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(f); err != nil {
		s.log.Debug("websocket write failed", log.Error(err))
		s.conn.Close()
		return false
	}
	return true
}

func eventFrame(e tracking.Event) Frame {
	return Frame{Type: FrameEvent, Unit: e.AdUnitID, Event: &e}
}

// remoteMedia relays media commands to the page's player
type remoteMedia struct {
	sess *session
	unit string
}

func (m *remoteMedia) Play() error {
	m.sess.push(Frame{Type: FrameMedia, Unit: m.unit, Command: "play"})
	return nil
}

func (m *remoteMedia) Pause() {
	m.sess.push(Frame{Type: FrameMedia, Unit: m.unit, Command: "pause"})
}

func (m *remoteMedia) SetMuted(muted bool) {
	cmd := "unmute"
	if muted {
		cmd = "mute"
	}
	m.sess.push(Frame{Type: FrameMedia, Unit: m.unit, Command: cmd})
}
