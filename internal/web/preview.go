// Package web serves the live pattern preview over a websocket.
//
// A client sends the source image as one binary message, then any number
// of JSON text messages describing grid settings. Each settings message
// starts an independent recompute; only the result for the newest seq is
// delivered, older ones are cancelled or dropped.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pixgrid/internal/grid"
	"pixgrid/internal/pattern"
	"pixgrid/internal/raster"
)

// Message types sent to clients.
const (
	TypeImage  = "image"
	TypeResult = "result"
	TypeError  = "error"
)

// PreviewRequest is the settings message a client sends.
type PreviewRequest struct {
	Seq       int64  `json:"seq"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
	Threshold *int   `json:"threshold,omitempty"`
	Auto      bool   `json:"auto,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// PreviewMessage is everything the hub sends back.
type PreviewMessage struct {
	Type    string           `json:"type"`
	Seq     int64            `json:"seq,omitempty"`
	Width   int              `json:"width,omitempty"`
	Height  int              `json:"height,omitempty"`
	Pattern *pattern.Grid    `json:"pattern,omitempty"`
	Summary *pattern.Summary `json:"summary,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// PreviewConfig tunes the hub.
type PreviewConfig struct {
	// Rate is recomputes per second per connection; Burst allows short spikes.
	Rate     float64
	Burst    int
	MaxBytes int64
	Limits   grid.Limits
}

// PreviewHub tracks connected preview clients.
type PreviewHub struct {
	log      *slog.Logger
	cfg      PreviewConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*previewConn]struct{}
}

// NewPreviewHub creates a hub. Zero config values get usable defaults.
func NewPreviewHub(logger *slog.Logger, cfg PreviewConfig) *PreviewHub {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 32 << 20
	}
	if cfg.Limits == (grid.Limits{}) {
		cfg.Limits = grid.AnalysisLimits
	}
	return &PreviewHub{
		log: logger,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*previewConn]struct{}),
	}
}

// Register mounts the preview page and websocket on r.
func (h *PreviewHub) Register(r *mux.Router) {
	r.HandleFunc("/preview", h.handlePage).Methods("GET")
	r.HandleFunc("/ws/preview", h.ServeWS).Methods("GET")
}

// Clients returns the number of open connections.
func (h *PreviewHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and serves one preview client until it
// disconnects.
func (h *PreviewHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxBytes)

	ctx, cancel := context.WithCancel(r.Context())
	c := &previewConn{
		hub:     h,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.cfg.Rate), h.cfg.Burst),
		cancel:  func() {},
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("preview client connected", "clients", n)

	defer func() {
		cancel()
		c.stopCurrent()
		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("preview client disconnected", "clients", n)
	}()

	c.readLoop(ctx)
}

type previewConn struct {
	hub     *PreviewHub
	conn    *websocket.Conn
	limiter *rate.Limiter
	img     atomic.Pointer[raster.Image]
	latest  atomic.Int64

	writeMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
}

func (c *previewConn) readLoop(ctx context.Context) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			c.setImage(ctx, data)
		case websocket.TextMessage:
			var req PreviewRequest
			if err := json.Unmarshal(data, &req); err != nil {
				c.send(PreviewMessage{Type: TypeError, Error: "invalid request: " + err.Error()})
				continue
			}
			c.request(ctx, req)
		}
	}
}

func (c *previewConn) setImage(ctx context.Context, data []byte) {
	img, err := raster.Decode(ctx, bytes.NewReader(data), "preview upload")
	if err != nil {
		c.send(PreviewMessage{Type: TypeError, Error: err.Error()})
		return
	}
	// A recompute still running against the old image must not be delivered.
	c.runMu.Lock()
	c.img.Store(img)
	c.cancel()
	c.runMu.Unlock()
	c.send(PreviewMessage{Type: TypeImage, Width: img.Width(), Height: img.Height()})
}

// request supersedes any running recompute. Requests that are not newer
// than the latest seen seq are ignored; seq must start at 1.
func (c *previewConn) request(ctx context.Context, req PreviewRequest) {
	if req.Seq < 1 {
		c.send(PreviewMessage{Type: TypeError, Error: "seq must be a positive integer"})
		return
	}
	for {
		cur := c.latest.Load()
		if req.Seq <= cur {
			return
		}
		if c.latest.CompareAndSwap(cur, req.Seq) {
			break
		}
	}

	c.runMu.Lock()
	c.cancel()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runMu.Unlock()

	go c.compute(runCtx, req)
}

func (c *previewConn) stopCurrent() {
	c.runMu.Lock()
	c.cancel()
	c.runMu.Unlock()
}

func (c *previewConn) compute(ctx context.Context, req PreviewRequest) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	msg := c.run(ctx, req)
	// request() bumps latest before taking runMu, so a newer request is
	// always visible here.
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if ctx.Err() != nil || req.Seq != c.latest.Load() {
		return
	}
	c.send(msg)
}

func (c *previewConn) run(ctx context.Context, req PreviewRequest) PreviewMessage {
	fail := func(err error) PreviewMessage {
		return PreviewMessage{Type: TypeError, Seq: req.Seq, Error: err.Error()}
	}
	img := c.img.Load()
	if img == nil {
		return PreviewMessage{Type: TypeError, Seq: req.Seq, Error: "no image uploaded"}
	}
	spec := grid.Spec{Cols: req.Cols, Rows: req.Rows, Threshold: req.Threshold}
	if err := spec.Validate(c.hub.cfg.Limits); err != nil {
		return fail(err)
	}
	mode, err := pattern.ParseMode(req.Mode)
	if err != nil {
		return fail(err)
	}
	compute := pattern.Compute
	if req.Auto {
		compute = pattern.ComputeAuto
	}
	g, err := compute(ctx, img, spec, mode)
	if err != nil {
		return fail(err)
	}
	summary := pattern.Summarize(g)
	return PreviewMessage{Type: TypeResult, Seq: req.Seq, Pattern: g, Summary: &summary}
}

func (c *previewConn) send(msg PreviewMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.hub.log.Debug("preview write failed", "error", err)
	}
}
