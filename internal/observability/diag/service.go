// Package diag runs the optional diagnostics HTTP server.
//
// Endpoints:
//
//	/healthz        200 "ok", or 503 with the health error
//	/status         JSON runtime snapshot
//	/schedule       plain-text timeline of the active schedule
//	/runs?limit=N   JSON run history, newest first
//	/metrics        Prometheus exposition
//	/debug/pprof/   net/http/pprof
//
// A non-loopback listen address is refused unless a token is configured.
package diag

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"dayloop/internal/config"
	rtsup "dayloop/internal/runtime/supervisor"
	logx "dayloop/pkg/logx"
)

const (
	defaultAddr     = "127.0.0.1:6060"
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

var ErrInsecureBind = errors.New("diag: non-loopback addr requires a token")

type Config struct {
	Enabled bool
	Addr    string
	Token   string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// Handlers are the application hooks behind the endpoints. A nil hook
// disables its endpoint, except Health which then always reports ok.
type Handlers struct {
	Metrics  http.Handler
	Health   func() error
	Status   func() any
	Schedule func(w io.Writer) error
	Runs     func(ctx context.Context, limit int) (any, error)
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	h   Handlers

	srv *http.Server
	ln  net.Listener
	sup *rtsup.Supervisor
}

func New(cfg Config, h Handlers, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, h: h, log: log}
}

// Supervisor returns the serving supervisor (nil when not serving).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and serves in the background. It is a no-op
// when disabled or already serving.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}

	cfg := s.cfg
	addr := cfg.addr()
	if strings.TrimSpace(cfg.Token) == "" && !config.IsLoopbackAddr(addr) {
		s.log.Error("diag refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("diag listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.mux(cfg.Token),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	// diagnostics never take the app down
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup.Go("http.serve", func(c context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("http.shutdown", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	s.srv, s.ln, s.sup = srv, ln, sup
	s.log.Info("diag started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
	)
	return nil
}

// Stop shuts the server down and waits for it within ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	_ = srv.Shutdown(ctx)
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("diag stop", logx.Err(err))
	}
	s.log.Info("diag stopped")
}

// Reconfigure applies cfg, starting, stopping or rebinding as needed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
		return nil
	case running && prev.addr() == cfg.addr() && prev.Token == cfg.Token &&
		prev.ReadTimeout == cfg.ReadTimeout && prev.WriteTimeout == cfg.WriteTimeout && prev.IdleTimeout == cfg.IdleTimeout:
		return nil
	}
	s.Stop(ctx)
	return s.Start(ctx)
}

func (s *Service) mux(token string) *http.ServeMux {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", auth(s.healthz))
	if s.h.Status != nil {
		mux.HandleFunc("/status", auth(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, s.h.Status())
		}))
	}
	if s.h.Schedule != nil {
		mux.HandleFunc("/schedule", auth(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if err := s.h.Schedule(w); err != nil {
				s.log.Warn("describe schedule", logx.Err(err))
			}
		}))
	}
	if s.h.Runs != nil {
		mux.HandleFunc("/runs", auth(s.runs))
	}
	if s.h.Metrics != nil {
		mux.Handle("/metrics", auth(s.h.Metrics.ServeHTTP))
	}

	const pp = "/debug/pprof/"
	mux.HandleFunc(pp, auth(hpprof.Index))
	mux.HandleFunc(pp+"cmdline", auth(hpprof.Cmdline))
	mux.HandleFunc(pp+"profile", auth(hpprof.Profile))
	mux.HandleFunc(pp+"symbol", auth(hpprof.Symbol))
	mux.HandleFunc(pp+"trace", auth(hpprof.Trace))
	return mux
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	if s.h.Health != nil {
		if err := s.h.Health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = io.WriteString(w, "ok")
}

func (s *Service) runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunLimit)
	}
	out, err := s.h.Runs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}
