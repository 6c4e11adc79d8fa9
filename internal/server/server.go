// Package server exposes the Sightline channel endpoint: a WebSocket route
// where each accepted connection gets its own [bridge.Bridge], plus static
// asset serving, health endpoints, and the Prometheus scrape route.
//
// The channel is the failure-containment boundary of the wire protocol:
// frames that cannot be parsed are answered with a generic invalid-payload
// error and the connection stays open. Outbound writes from the bridge and
// its session hooks are serialised by a per-connection write lock.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veri5ied/sightline/internal/bridge"
	"github.com/Veri5ied/sightline/internal/health"
	"github.com/Veri5ied/sightline/internal/observe"
	"github.com/Veri5ied/sightline/internal/wire"
	"github.com/Veri5ied/sightline/pkg/live"
)

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Config configures a [Server].
type Config struct {
	// Provider opens upstream sessions for each channel. Nil means no
	// credential is configured; connect attempts get a configuration error.
	Provider live.Provider

	// Model is the model identifier announced in server.ready and requested
	// from the provider.
	Model string

	// StaticDir is the directory of static assets served at the root path.
	// Empty disables static serving.
	StaticDir string

	// Metrics records server activity. Nil falls back to the default
	// instance.
	Metrics *observe.Metrics
}

// Server routes HTTP traffic for Sightline.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	healthy *health.Handler
}

// New creates a Server.
func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	checkers := []health.Checker{
		{
			Name: "provider",
			Check: func(context.Context) error {
				if cfg.Provider == nil {
					return errors.New("no API key configured")
				}
				return nil
			},
		},
	}

	return &Server{
		cfg:     cfg,
		metrics: m,
		healthy: health.New(checkers...),
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleChannel)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.healthy.Register(mux)

	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return mux
}

// handleChannel upgrades the request and serves one client channel until it
// disconnects.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server shutting down")

	ctx := r.Context()
	s.metrics.ActiveChannels.Add(ctx, 1)
	defer s.metrics.ActiveChannels.Add(context.Background(), -1)

	// Bridge hooks fire on the session's receive goroutine while the read
	// loop may also be sending, so writes share one lock.
	var writeMu sync.Mutex
	send := func(msg wire.ServerMessage) {
		data, err := wire.Encode(msg)
		if err != nil {
			slog.Error("server: encode outbound message", "type", msg.Tag(), "err", err)
			return
		}

		writeMu.Lock()
		defer writeMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
			// The channel is gone or stalled; the read loop will notice.
			slog.Debug("server: outbound write failed", "type", msg.Tag(), "err", err)
		}
	}

	br := bridge.New(bridge.Config{
		Provider: s.cfg.Provider,
		Model:    s.cfg.Model,
		Send:     send,
		Metrics:  s.metrics,
	})
	// Whatever ends the read loop, the upstream session must not outlive
	// the channel.
	defer br.Disconnect("channel closed")

	send(wire.ServerReady{Model: s.cfg.Model})
	slog.Info("server: channel open", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Info("server: channel closed", "remote", r.RemoteAddr, "reason", closeSummary(err))
			return
		}

		msg, err := wire.DecodeClient(data)
		if err != nil {
			// Protocol errors never close the channel.
			slog.Debug("server: invalid payload", "err", err)
			send(wire.LiveError{Message: "invalid payload"})
			continue
		}

		br.Handle(ctx, msg)
	}
}

// closeSummary condenses a read error into a log-friendly reason.
func closeSummary(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return ce.Reason
		}
		return ce.Code.String()
	}
	return err.Error()
}
