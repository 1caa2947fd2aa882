// Package server carries the operational HTTP surface: metrics, health,
// HLS output and the live feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fusion-svr/internal/tak"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// GatewayState is the part of the TAK gateway readiness depends on.
type GatewayState interface {
	State() tak.State
}

// StreamCounter reports how many transcoder jobs are registered.
type StreamCounter interface {
	Count() int
}

// RouterOptions selects what the router exposes. StreamsDir is served under
// /streams/ and Feed handles /ws; either is skipped when unset.
type RouterOptions struct {
	StreamsDir string
	Gateway    GatewayState
	Streams    StreamCounter
	Feed       http.Handler
}

type readiness struct {
	Status  string `json:"status"`
	TAK     string `json:"tak"`
	Streams int    `json:"streams"`
}

func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		body := readiness{Status: "ready", TAK: tak.StateDisconnected.String()}
		code := http.StatusOK
		if opts.Gateway != nil {
			st := opts.Gateway.State()
			body.TAK = st.String()
			if st != tak.StateConnected {
				body.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		if opts.Streams != nil {
			body.Streams = opts.Streams.Count()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})

	if opts.StreamsDir != "" {
		fs := http.StripPrefix("/streams/", http.FileServer(http.Dir(opts.StreamsDir)))
		r.Get("/streams/*", hlsHeaders(fs).ServeHTTP)
	}
	if opts.Feed != nil {
		r.Handle("/ws", opts.Feed)
	}
	return r
}

// hlsHeaders sets HLS content types and keeps players from caching the live
// playlist.
func hlsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.ToLower(path.Ext(r.URL.Path)) {
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			w.Header().Set("Cache-Control", "no-cache")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// HTTPServerService runs an http.Server under a supervisor and shuts it
// down gracefully when the context ends.
type HTTPServerService struct {
	server          *http.Server
	lis             net.Listener
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewHTTPServerService serves h on addr. A non-nil lis is used instead of
// addr.
func NewHTTPServerService(addr string, lis net.Listener, h http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServerService{
		server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		lis:             lis,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With("component", "http"),
	}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	lis := h.lis
	h.lis = nil
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", h.server.Addr)
		if err != nil {
			return fmt.Errorf("http listen %s: %w", h.server.Addr, err)
		}
	}
	h.logger.Info("http server listening", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }
