package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jpalmerr/vehicleboard/internal/events"
	"github.com/jpalmerr/vehicleboard/internal/gateway"
	"github.com/jpalmerr/vehicleboard/internal/store"
	"github.com/jpalmerr/vehicleboard/internal/stream"
	"github.com/jpalmerr/vehicleboard/internal/telemetry"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// wsWriteTimeout bounds each WebSocket write, control frames included.
	wsWriteTimeout = 5 * time.Second

	// wsMaxMessageSize caps inbound WebSocket messages; clients only listen.
	wsMaxMessageSize = 512

	// shutdownTimeout bounds graceful shutdown of in-flight requests.
	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Vehicle Dashboard"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Telemetry is the one-shot data service behind the REST routes.
type Telemetry interface {
	RequestValue(ctx context.Context, key string) (telemetry.Result, error)
	Snapshot() map[string]store.Record
	HeadlightState(ctx context.Context) (telemetry.Result, error)
	SetHeadlightState(ctx context.Context, value any) (telemetry.Result, error)
}

// Streams starts background telemetry streams.
type Streams interface {
	Start(key string, interval, maxUpdates int) (stream.StartResult, error)
}

// Config holds the server settings.
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Assets holds the dashboard; nil disables the "/" route.
	Assets fs.FS

	// Title replaces {{.Title}} in the dashboard HTML.
	Title string

	// StreamInterval and StreamMaxUpdates apply when a stream request
	// omits its query parameters.
	StreamInterval   int
	StreamMaxUpdates int
}

// Server handles HTTP requests for the vehicle dashboard and its API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	cfg        Config
	telemetry  Telemetry
	streams    Streams
	feed       *events.Feed
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new HTTP [Server]. The server is not started until
// [Server.Start] is called.
func NewServer(cfg Config, tel Telemetry, streams Streams, feed *events.Feed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		telemetry: tel,
		streams:   streams,
		feed:      feed,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dashboard may be served from a different origin than the API
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/request_data", s.handleRequestData)
		r.Get("/vehicle_data", s.handleVehicleData)
		r.Get("/stream/{key}", s.handleStartStream)
		r.Get("/events", s.handleSSE)
		r.Get("/events/ws", s.handleWebSocket)
		r.Get("/headlights", s.handleGetHeadlights)
		r.Put("/headlights", s.handleSetHeadlights)
	})

	if s.cfg.Assets != nil {
		r.Get("/", s.handleDashboard)
	}

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// ending long-running handlers like the event feeds.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if s.cfg.Assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// apply title substitution with HTML escaping to prevent XSS
	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleRequestData fetches one telemetry value from the vehicle now.
func (s *Server) handleRequestData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &gateway.ValidationError{Reason: "Invalid JSON body"})
		return
	}

	result, err := s.telemetry.RequestValue(r.Context(), body.Key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleVehicleData returns the cache snapshot.
func (s *Server) handleVehicleData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, s.telemetry.Snapshot())
}

// handleStartStream starts a background stream for the key in the path.
func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	interval, err := intParam(r, "interval", s.cfg.StreamInterval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxUpdates, err := intParam(r, "max_updates", s.cfg.StreamMaxUpdates)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.streams.Start(key, interval, maxUpdates)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetHeadlights(w http.ResponseWriter, r *http.Request) {
	result, err := s.telemetry.HeadlightState(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSetHeadlights(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, &gateway.ValidationError{Reason: "Invalid JSON body"})
		return
	}

	result, err := s.telemetry.SetHeadlightState(r.Context(), body["turn_on"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleSSE streams feed frames via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent
// the handler from detecting context cancellation.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := w.Write(data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	s.logger.Info("client connected to event stream", "remote_addr", r.RemoteAddr)
	defer s.logger.Info("client left event stream", "remote_addr", r.RemoteAddr)

	// the request context is derived from the server context via BaseContext,
	// so the feed ends on both client disconnect and server shutdown
	for frame := range s.feed.Frames(r.Context()) {
		if err := writeAndFlush(frame.SSE()); err != nil {
			s.logger.Debug("event stream write failed", "error", err)
			return
		}
	}
}

// handleWebSocket serves the same feed over a WebSocket. Events are text
// messages carrying the event JSON; keepalives become ping control frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the read side only exists to notice the client going away
	go func() {
		defer cancel()
		conn.SetReadLimit(wsMaxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	s.logger.Info("client connected to websocket feed", "remote_addr", r.RemoteAddr)

	for frame := range s.feed.Frames(ctx) {
		deadline := time.Now().Add(wsWriteTimeout)
		if frame.Keepalive {
			err = conn.WriteControl(websocket.PingMessage, nil, deadline)
		} else {
			_ = conn.SetWriteDeadline(deadline)
			err = conn.WriteMessage(websocket.TextMessage, frame.Data)
		}
		if err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

// writeError maps err onto an HTTP status and writes {"error": message}.
// Validation problems are the caller's fault (400); everything else is an
// upstream or internal failure (500).
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case gateway.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, stream.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// intParam reads an integer query parameter, falling back when absent.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &gateway.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
