package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/caffeineduck/goplug/hostfunc"
	"github.com/caffeineduck/goplug/internal/host"
	"github.com/caffeineduck/goplug/plugin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for driving the module",
	Long: `Start an HTTP server exposing the loaded module.

Endpoints:
  POST   /eval       Evaluate code, body {"code":"..."}
  POST   /call       Call a function, body {"function":"...","args":[],"kwargs":{}}
  GET    /callable   Probe ?function=name[&module=mod]
  POST   /reload     Reload the module if it changed on disk
  GET    /status     Module state and last diagnostics
  GET    /health     Health check
  GET    /metrics    Prometheus metrics

Schedules from the configuration file run while the server is up.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().Bool("watch", false, "Reload on source changes")
	rootCmd.AddCommand(serveCmd)
}

type evalRequest struct {
	Code    string `json:"code"`
	Timeout string `json:"timeout,omitempty"`
}

type callRequest struct {
	Module   string         `json:"module,omitempty"`
	Function string         `json:"function"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
	Timeout  string         `json:"timeout,omitempty"`
}

type resultResponse struct {
	Status     string `json:"status"`
	Value      any    `json:"value,omitempty"`
	Repr       string `json:"repr,omitempty"`
	Error      string `json:"error,omitempty"`
	Exception  string `json:"exception,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type callableResponse struct {
	Callable bool `json:"callable"`
}

type server struct {
	runner  *host.Runner
	logger  *slog.Logger
	maxBody int64
	mux     *http.ServeMux
}

func newServer(runner *host.Runner, reg *prometheus.Registry, logger *slog.Logger, maxBody int64) *server {
	s := &server{
		runner:  runner,
		logger:  logger,
		maxBody: maxBody,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /eval", s.handleEval)
	s.mux.HandleFunc("POST /call", s.handleCall)
	s.mux.HandleFunc("GET /callable", s.handleCallable)
	s.mux.HandleFunc("POST /reload", s.handleReload)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s
}

// ServeHTTP tags every request with an ID, echoed in X-Request-ID.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request served",
		"request_id", id,
		"method", r.Method,
		"path", r.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := hostfunc.DecodeJSON(body, v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// withTimeout applies a per-request timeout such as "500ms".
func withTimeout(ctx context.Context, timeout string) (context.Context, context.CancelFunc, error) {
	if timeout == "" {
		return ctx, func() {}, nil
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeout %q", timeout)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, cancel, nil
}

func (s *server) handleEval(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	ctx, cancel, err := withTimeout(r.Context(), req.Timeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cancel()

	start := time.Now()
	v, err := s.runner.Eval(ctx, req.Code)
	s.writeResult(w, v, err, time.Since(start))
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Function == "" {
		http.Error(w, "function required", http.StatusBadRequest)
		return
	}

	args, kwargs, err := toStarlarkArgs(req.Args, req.Kwargs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel, err := withTimeout(r.Context(), req.Timeout)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cancel()

	start := time.Now()
	v, err := s.runner.Call(ctx, req.Module, req.Function, args, kwargs)
	s.writeResult(w, v, err, time.Since(start))
}

func (s *server) handleCallable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	function := q.Get("function")
	if function == "" {
		http.Error(w, "function required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, callableResponse{
		Callable: s.runner.IsCallable(q.Get("module"), function),
	})
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.runner.Reload(r.Context())
	s.writeResult(w, nil, err, time.Since(start))
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

// writeResult maps bridge statuses onto HTTP codes: exceptions and
// non-callable targets are 422, operational errors 503.
func (s *server) writeResult(w http.ResponseWriter, v starlark.Value, err error, d time.Duration) {
	status := plugin.StatusOf(err)
	resp := resultResponse{
		Status:     status.String(),
		DurationMs: d.Milliseconds(),
	}

	code := http.StatusOK
	switch status {
	case plugin.StatusOK:
		if v != nil {
			resp.Value = toJSON(v)
			resp.Repr = v.String()
		}
	case plugin.StatusException, plugin.StatusNotCallable:
		code = http.StatusUnprocessableEntity
		resp.Error = err.Error()
		resp.Exception = exceptionOf(err)
	default:
		code = http.StatusServiceUnavailable
		resp.Error = err.Error()
	}
	writeJSON(w, code, resp)
}

// exceptionOf returns the script exception carried by err, or "".
func exceptionOf(err error) string {
	var perr *plugin.Error
	if errors.As(err, &perr) && perr.Exception != nil {
		return perr.Exception.String()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	addr := a.cfg.Server.Address
	if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
		addr = flagAddr
	}
	watch, _ := cmd.Flags().GetBool("watch")
	watch = watch || a.cfg.Module.Watch

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		if plugin.StatusOf(err) != plugin.StatusException {
			return err
		}
		a.logger.Error("module failed to load; serving in failed state", "error", err)
	}

	sched := host.NewScheduler(a.runner, a.logger)
	for _, e := range a.cfg.Schedule {
		job := host.Job{Spec: e.Spec, Module: e.Module, Function: e.Function}
		if err := sched.Add(ctx, job); err != nil {
			return err
		}
	}
	if len(a.cfg.Schedule) > 0 {
		sched.Start(ctx)
		defer sched.Stop()
	}

	if watch {
		w, err := host.NewWatcher(a.runner, host.WatcherConfig{Dirs: a.watchDirs()}, a.logger)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				a.logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      newServer(a.runner, a.metrics, a.logger, a.cfg.Server.MaxBodySize),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("goplug server listening", "addr", addr, "module", a.bridge.ModuleName())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("shutting down server")
	return srv.Shutdown(shutdownCtx)
}
