// Package api serves the dashboard: JSON query endpoints, CSV export,
// Prometheus metrics and the live WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/catwatch/internal/broadcast"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/ingest"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/metrics"
	"github.com/xtxerr/catwatch/internal/stats"
	"github.com/xtxerr/catwatch/internal/storage/query"
	"github.com/xtxerr/catwatch/internal/types"
)

// Store is the read side of the reading log the API needs.
type Store interface {
	Latest() (types.Reading, bool)
	Len() int
}

// Archive answers per-day rollup queries over archived days.
type Archive interface {
	DailyRollups(ctx context.Context, from, to string) ([]query.Rollup, error)
}

// Deps are the components the API reads from.
type Deps struct {
	Store       Store
	Stats       *stats.Engine
	Broadcaster *broadcast.Broadcaster

	// Loop is optional; without it /system/health omits ingest details.
	Loop *ingest.Loop

	// Archive is optional; without it /archive/daily answers 404.
	Archive Archive

	// Metrics is optional; without it /metrics is not routed.
	Metrics *metrics.Registry

	// Profile names the CSV export file.
	Profile string

	Config config.HTTPConfig

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// API is the HTTP surface.
type API struct {
	deps  Deps
	cfg   config.HTTPConfig
	clock func() time.Time
	log   *slog.Logger

	// group coalesces identical concurrent aggregate queries.
	group singleflight.Group

	upgrader websocket.Upgrader

	// WebSocket state
	shutdown  chan struct{}
	closeOnce sync.Once
	wsMu      sync.Mutex
	wsWG      sync.WaitGroup
	wsActive  atomic.Int64
	wsTotal   atomic.Int64
}

// New creates the API.
func New(d Deps) *API {
	cfg := d.Config
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = config.DefaultConfig().HTTP.HistoryLimit
	}
	if cfg.HealthWindow <= 0 {
		cfg.HealthWindow = config.DefaultConfig().HTTP.HealthWindow
	}
	if cfg.ExportWindow <= 0 {
		cfg.ExportWindow = config.DefaultConfig().HTTP.ExportWindow
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}

	a := &API{
		deps:     d,
		cfg:      cfg,
		clock:    d.Clock,
		log:      logging.Component("api"),
		shutdown: make(chan struct{}),
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// Handler returns the routed handler with recovery, CORS and access logging.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	a.route(r, "/data", a.handleData)
	a.route(r, "/history", a.handleHistory)
	a.route(r, "/stats/daily", a.handleDailyStats)
	a.route(r, "/export/csv", a.handleExportCSV)
	a.route(r, "/system/health", a.handleHealth)
	a.route(r, "/system/stats", a.handleSystemStats)
	a.route(r, "/archive/daily", a.handleArchiveDaily)
	r.HandleFunc("/ws", a.handleWS).Methods(http.MethodGet)

	if a.deps.Metrics != nil {
		r.Handle("/metrics", a.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(a.recoverPanics)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(a.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.ExposedHeaders([]string{"Content-Disposition", "X-Export-Schema"}),
	)(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, a.logRequest)
	return h
}

func (a *API) route(r *mux.Router, path string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if a.deps.Metrics != nil {
		h = a.deps.Metrics.Instrument(path, h)
	}
	r.Handle(path, h).Methods(http.MethodGet)
}

// Close ends all WebSocket sessions and waits for them.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		a.wsMu.Lock()
		close(a.shutdown)
		a.wsMu.Unlock()
	})
	a.wsWG.Wait()
}

// logRequest writes one access log record per request.
func (a *API) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	a.log.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"remote", p.Request.RemoteAddr,
		"duration_ms", time.Since(p.TimeStamp).Milliseconds())
}

// recoverPanics turns a handler panic into a JSON 500.
func (a *API) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				a.log.Error("handler panic", "path", r.URL.Path, "panic", v)
				writeError(w, http.StatusInternalServerError, fmt.Sprint(v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// =============================================================================
// Responses
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps err to a status. Unexpected failures are logged.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.ErrorToStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}
