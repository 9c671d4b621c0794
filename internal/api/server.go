// Package api serves the HTTP control surface of a running wheelcast.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/wheelcast/internal/db"
	"github.com/banshee-data/wheelcast/internal/httputil"
	"github.com/banshee-data/wheelcast/internal/monitoring"
	"github.com/banshee-data/wheelcast/internal/report"
	"github.com/banshee-data/wheelcast/internal/security"
	"github.com/banshee-data/wheelcast/internal/sender"
	"github.com/banshee-data/wheelcast/internal/session"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ConfigLoader returns the loop configuration for a new run. It is called
// once per start so edits to the settings file apply to the next run.
type ConfigLoader func() (sender.Config, error)

// Server exposes the session controller and the run history over HTTP.
type Server struct {
	ctx     context.Context
	ctl     *session.Controller
	db      *db.DB
	loadCfg ConfigLoader
}

// NewServer creates a server. Runs started through it live until ctx is
// cancelled or they are stopped, independent of the request that started
// them. runs may be nil when recording is disabled.
func NewServer(ctx context.Context, ctl *session.Controller, runs *db.DB, loadCfg ConfigLoader) *Server {
	return &Server{
		ctx:     ctx,
		ctl:     ctl,
		db:      runs,
		loadCfg: loadCfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes plus a /debug/session page.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/start", s.startRun)
	mux.HandleFunc("/api/stop", s.stopRun)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/", s.handleRunByID)

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("session", "Current transmit loop status", s.showStatus)
	return mux
}

// StatusResponse is the body of /api/status, /api/start and /api/stop.
type StatusResponse struct {
	Handle string         `json:"handle,omitempty"`
	Status sender.Status  `json:"status"`
	Config *sender.Config `json:"config,omitempty"`
}

func (s *Server) currentStatus() StatusResponse {
	h, st, ok := s.ctl.Current()
	resp := StatusResponse{Status: st}
	if !ok {
		return resp
	}
	resp.Handle = h.ID
	if cfg, err := s.ctl.Config(h); err == nil {
		resp.Config = &cfg
	}
	return resp
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.currentStatus())
}

// StartRequest overrides fields of the configured loop settings. Absent
// fields keep their configured value.
type StartRequest struct {
	Host             *string  `json:"ip,omitempty"`
	Port             *int     `json:"port,omitempty"`
	Rate             *float64 `json:"rate,omitempty"`
	Controller       *int     `json:"controller,omitempty"`
	InvertY          *bool    `json:"invert_y,omitempty"`
	Checksum         *bool    `json:"checksum,omitempty"`
	Duration         *float64 `json:"duration,omitempty"` // seconds
	StopOnDisconnect *bool    `json:"stop_on_disconnect,omitempty"`
	Verbose          *bool    `json:"verbose,omitempty"`
}

// Apply returns cfg with the request's overrides.
func (req StartRequest) Apply(cfg sender.Config) sender.Config {
	if req.Host != nil {
		cfg.Host = *req.Host
	}
	if req.Port != nil {
		cfg.Port = *req.Port
	}
	if req.Rate != nil {
		cfg.Rate = *req.Rate
	}
	if req.Controller != nil {
		cfg.ControllerIndex = *req.Controller
	}
	if req.InvertY != nil {
		cfg.InvertY = *req.InvertY
	}
	if req.Checksum != nil {
		cfg.Checksum = *req.Checksum
	}
	if req.Duration != nil {
		cfg.Duration = time.Duration(*req.Duration * float64(time.Second))
	}
	if req.StopOnDisconnect != nil {
		cfg.StopOnDisconnect = *req.StopOnDisconnect
	}
	if req.Verbose != nil {
		cfg.Verbose = *req.Verbose
	}
	return cfg
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	cfg, err := s.loadCfg()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load settings: %v", err))
		return
	}
	cfg = req.Apply(cfg)

	h, err := s.ctl.Start(s.ctx, cfg)
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, sender.ErrInvalidConfig):
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		httputil.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to start: %v", err))
		return
	}

	st, _ := s.ctl.Status(h)
	httputil.WriteJSON(w, http.StatusAccepted, StatusResponse{Handle: h.ID, Status: st, Config: &cfg})
}

// stopRun stops the current run. With ?wait=true it responds once the
// failsafe packet has been sent.
func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	h, _, ok := s.ctl.Current()
	if ok {
		s.ctl.Stop(h)
		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			if _, err := s.ctl.Wait(r.Context(), h); err != nil {
				httputil.WriteJSONError(w, http.StatusGatewayTimeout, fmt.Sprintf("Run did not stop: %v", err))
				return
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "Recording is disabled")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

// RunResponse is the body of /api/runs/{id}.
type RunResponse struct {
	db.Run
	Summary report.Summary `json:"summary"`
}

// handleRunByID handles GET /api/runs/:id, GET /api/runs/:id/chart and
// DELETE /api/runs/:id
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "Recording is disabled")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Missing run ID")
		return
	}
	id := pathParts[0]

	switch {
	case len(pathParts) == 1 && r.Method == http.MethodGet:
		s.showRun(w, id)
	case len(pathParts) == 1 && r.Method == http.MethodDelete:
		s.deleteRun(w, id)
	case len(pathParts) == 2 && pathParts[1] == "chart" && r.Method == http.MethodGet:
		s.showChart(w, r, id)
	case len(pathParts) <= 2:
		httputil.WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		httputil.WriteJSONError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) loadRun(w http.ResponseWriter, id string) (db.Run, []db.Tick, bool) {
	run, err := s.db.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return db.Run{}, nil, false
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return db.Run{}, nil, false
	}
	ticks, err := s.db.RunTicks(id)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return db.Run{}, nil, false
	}
	return run, ticks, true
}

func (s *Server) showRun(w http.ResponseWriter, id string) {
	run, ticks, ok := s.loadRun(w, id)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RunResponse{Run: run, Summary: report.Summarize(ticks)})
}

func (s *Server) deleteRun(w http.ResponseWriter, id string) {
	if h, st, ok := s.ctl.Current(); ok && h.ID == id && st.Active() {
		httputil.WriteJSONError(w, http.StatusConflict, "Run is still active")
		return
	}
	err := s.db.DeleteRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request, id string) {
	run, ticks, ok := s.loadRun(w, id)
	if !ok {
		return
	}
	if len(ticks) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "Run has no recorded packets")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "png" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid 'format' parameter")
		return
	}
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		name := fmt.Sprintf("wheelcast-%s.%s", security.SanitizeFilename(id), format)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}

	var err error
	if format == "png" {
		w.Header().Set("Content-Type", "image/png")
		err = report.RenderPNG(w, run, ticks, 10*vg.Inch, 4*vg.Inch)
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = report.RenderHTML(w, run, ticks)
	}
	if err != nil {
		monitoring.Warnf("failed to render chart of run %s: %v", id, err)
	}
}
