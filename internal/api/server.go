// Package api implements the HTTP surface of the orchestration service.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shipflow/internal/auth"
	"shipflow/internal/carriers"
	"shipflow/internal/config"
	"shipflow/internal/events"
	"shipflow/internal/metrics"
	"shipflow/internal/mirakl"
	"shipflow/internal/orchestrator"
	"shipflow/internal/poller"
	"shipflow/internal/selector"
	"shipflow/internal/store"
	"shipflow/internal/webhooks"
)

// Server holds the wired service components behind the HTTP handlers.
type Server struct {
	Store    store.Store
	Carriers *carriers.Registry
	Orc      *orchestrator.Orchestrator
	Poller   *poller.Poller
	Receiver *webhooks.Receiver
	Broker   events.Broker
	Auth     *auth.Verifier
	Log      *zap.Logger
}

// NewServer wires the full component graph from config. Store backend
// follows DATABASE_URL, event broker follows REDIS_URL, both fall back
// to local implementations.
func NewServer(cfg config.Config, log *zap.Logger) (*Server, error) {
	var st store.Store
	var err error
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		st, err = store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	default:
		st, err = store.NewCSV(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	var broker events.Broker
	if cfg.RedisURL != "" {
		rb, err := events.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Warn("redis broker unavailable, using in-memory", zap.Error(err))
			broker = events.NewMemoryBroker()
		} else {
			broker = rb
		}
	} else {
		broker = events.NewMemoryBroker()
	}

	reg := carriers.NewRegistry(cfg, carriers.NewClient(cfg.CarrierRate), log)
	market := mirakl.New(cfg.Mirakl, log)
	orc := orchestrator.New(st, reg, market, selector.Default(), broker, log)
	pol := poller.New(st, reg, market, broker, cfg.PollInterval, log)
	recv := webhooks.NewReceiver(st, pol, func(carrier string) string {
		return cfg.Carrier(carrier).WebhookSecret
	}, log)

	return &Server{
		Store:    st,
		Carriers: reg,
		Orc:      orc,
		Poller:   pol,
		Receiver: recv,
		Broker:   broker,
		Auth:     auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret, cfg.AuthJWKSURL),
		Log:      log.Named("api"),
	}, nil
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/orchestrator/fetch", s.FetchHandler)
	mux.HandleFunc("/v1/orchestrator/post", s.PostHandler)
	mux.HandleFunc("/v1/orchestrator/push", s.PushHandler)
	mux.HandleFunc("/v1/orchestrator/run", s.RunAllHandler)
	mux.HandleFunc("/v1/poller/run", s.PollerRunHandler)

	mux.HandleFunc("/v1/orders", s.OrdersHandler)
	mux.HandleFunc("/v1/orders/export.csv", s.OrdersExportHandler)
	mux.HandleFunc("/v1/orders/", s.OrderByIDHandler) // includes /label, /cancel

	mux.HandleFunc("/v1/logs", s.LogsHandler)
	mux.HandleFunc("/v1/logs/export.csv", s.LogsExportHandler)

	mux.HandleFunc("/v1/carriers", s.CarriersHandler)
	mux.HandleFunc("/v1/webhooks/", s.WebhookHandler)
	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)
	mux.HandleFunc("/v1/events/stream", s.EventsStreamHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/version", s.VersionHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}

// getPrincipal resolves the caller from the Authorization header.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	token := ""
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		token = strings.TrimSpace(authz[len("Bearer "):])
	}
	return s.Auth.Verify(token)
}

// requireOperator guards mutating endpoints. Returns false after
// writing the error response.
func (s *Server) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	p, err := s.getPrincipal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return false
	}
	if p.Role != "operator" && p.Role != "admin" {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator role required", r.URL.Path)
		return false
	}
	return true
}

// Middleware wraps mux with request logging and metrics.
func (s *Server) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		status := strconv.Itoa(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		s.Log.Info("request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", sw.status), zap.Duration("duration", dur))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Flush keeps event streaming working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
