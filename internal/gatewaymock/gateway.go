// Package gatewaymock emulates the vehicle gateway's HTTP API.
//
// It serves the one-shot fuel and headlight routes plus the fuel level
// event stream, with knobs for injecting failures. Tests run it under
// httptest; example/cmd/mockgateway runs it as a standalone server.
package gatewaymock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultFuelLevel  = 75.0
	defaultDrain      = 0.5
	defaultInterval   = 2
	defaultMaxUpdates = 10
	defaultVehicleID  = "VIN-DEMO-0001"
)

// Gateway is an in-memory vehicle with an HTTP front end.
type Gateway struct {
	vehicleID    string
	drain        float64
	intervalUnit time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	fuel       float64
	headlights bool
	failStatus int
	failLeft   int
	apiError   string

	requests atomic.Int64
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithFuelLevel sets the starting fuel level in percent.
func WithFuelLevel(pct float64) Option {
	return func(g *Gateway) { g.fuel = pct }
}

// WithDrain sets how many percentage points the fuel level drops per
// streamed update.
func WithDrain(pct float64) Option {
	return func(g *Gateway) { g.drain = pct }
}

// WithIntervalUnit sets the duration of one stream interval step. The
// gateway's interval query parameter counts seconds; tests shrink the unit
// to keep streams fast.
func WithIntervalUnit(d time.Duration) Option {
	return func(g *Gateway) { g.intervalUnit = d }
}

// WithVehicleID sets the vehicle identifier echoed in responses.
func WithVehicleID(id string) Option {
	return func(g *Gateway) { g.vehicleID = id }
}

// WithLogger sets the logger for request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// New creates an emulated gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		vehicleID:    defaultVehicleID,
		drain:        defaultDrain,
		intervalUnit: time.Second,
		logger:       slog.Default(),
		fuel:         defaultFuelLevel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FailNext answers the next n requests with status instead of serving them.
func (g *Gateway) FailNext(n, status int) {
	g.mu.Lock()
	g.failLeft = n
	g.failStatus = status
	g.mu.Unlock()
}

// SetAPIError makes every one-shot response carry msg in its "error"
// field. An empty msg clears it.
func (g *Gateway) SetAPIError(msg string) {
	g.mu.Lock()
	g.apiError = msg
	g.mu.Unlock()
}

// FuelLevel returns the current fuel level.
func (g *Gateway) FuelLevel() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fuel
}

// Headlights returns the current headlight state.
func (g *Gateway) Headlights() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.headlights
}

// Requests returns the number of requests received, failed ones included.
func (g *Gateway) Requests() int64 {
	return g.requests.Load()
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.countAndInject)

	r.Route("/api/v1/vehicle", func(r chi.Router) {
		r.Get("/data/fuel_level", g.handleFuelLevel)
		r.Get("/stream/fuel_level", g.handleFuelStream)
		r.Get("/lighting/headlights", g.handleGetHeadlights)
		r.Put("/lighting/headlights", g.handleSetHeadlights)
	})

	return r
}

// countAndInject counts requests and serves injected failures.
func (g *Gateway) countAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.requests.Add(1)

		g.mu.Lock()
		status := 0
		if g.failLeft > 0 {
			g.failLeft--
			status = g.failStatus
		}
		g.mu.Unlock()

		if status != 0 {
			g.logger.Debug("injected failure", "path", r.URL.Path, "status", status)
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleFuelLevel(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	level := g.fuel
	g.mu.Unlock()

	g.writeJSON(w, r, map[string]any{"level_percent": level})
}

func (g *Gateway) handleGetHeadlights(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	on := g.headlights
	g.mu.Unlock()

	g.writeJSON(w, r, map[string]any{"headlight_state": on})
}

func (g *Gateway) handleSetHeadlights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TurnOn *bool `json:"turn_on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TurnOn == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.headlights = *req.TurnOn
	g.mu.Unlock()

	g.logger.Info("headlights switched", "on", *req.TurnOn)
	g.writeJSON(w, r, map[string]any{
		"status":          true,
		"headlight_state": *req.TurnOn,
		"command":         "turn_headlights_" + map[bool]string{true: "on", false: "off"}[*req.TurnOn],
	})
}

func (g *Gateway) handleFuelStream(w http.ResponseWriter, r *http.Request) {
	interval := positiveParam(r, "interval", defaultInterval)
	maxUpdates := positiveParam(r, "max_updates", defaultMaxUpdates)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.logger.Info("fuel stream opened", "interval", interval, "max_updates", maxUpdates)

	ticker := time.NewTicker(time.Duration(interval) * g.intervalUnit)
	defer ticker.Stop()

	for sent := 0; sent < maxUpdates; sent++ {
		if sent > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}
		}

		data, err := json.Marshal(map[string]any{
			"vehicle_id": g.vehicleID,
			"data":       map[string]any{"level_percent": g.consume()},
		})
		if err != nil {
			g.logger.Error("failed to encode stream update", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// consume drains the tank by one step and returns the new level.
func (g *Gateway) consume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fuel = math.Max(0, math.Round((g.fuel-g.drain)*10)/10)
	return g.fuel
}

func (g *Gateway) writeJSON(w http.ResponseWriter, r *http.Request, data map[string]any) {
	g.mu.Lock()
	apiErr := g.apiError
	g.mu.Unlock()

	resp := map[string]any{
		"vehicle_id": g.vehicleID,
		"data":       data,
		"timestamp":  time.Now().Unix(),
		"request_id": middleware.GetReqID(r.Context()),
	}
	if apiErr != "" {
		resp["error"] = apiErr
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to write response", "error", err)
	}
}

func positiveParam(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
