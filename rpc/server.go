package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 1 * 1024 * 1024

// Options tune the HTTP front end.
type Options struct {
	// AuthToken, when set, must accompany state-changing methods as
	// "Authorization: Bearer <token>". Empty means no auth.
	AuthToken string
	// RateLimit is the sustained requests per second allowed per client;
	// zero disables limiting.
	RateLimit float64
	RateBurst int
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

// Server is a JSON-RPC 2.0 HTTP server.
type Server struct {
	handler *Handler
	addr    string
	opts    Options
	srv     *http.Server
}

// NewServer creates a Server on addr.
func NewServer(addr string, handler *Handler, opts Options) *Server {
	s := &Server{handler: handler, addr: addr, opts: opts}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the HTTP routes. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	r.Group(func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(newRateLimiter(s.opts.RateLimit, s.opts.RateBurst).middleware)
		}
		r.Post("/", s.serveRPC)
	})
	return r
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[rpc] server error: %v", err)
		}
	}()
	log.Infof("[rpc] listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.AuthToken == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.opts.AuthToken
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	start := time.Now()
	resp := s.handler.Dispatch(req, s.authorized(r))
	entry := log.WithFields(log.Fields{
		"request_id": uuid.NewString(),
		"method":     req.Method,
		"client":     clientID(r),
		"elapsed":    time.Since(start),
	})
	if resp.Error != nil {
		entry.WithField("code", resp.Error.Code).Debugf("[rpc] %s", resp.Error.Message)
	} else {
		entry.Debug("[rpc] ok")
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	_ = json.NewEncoder(w).Encode(v)
}
