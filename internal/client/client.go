// Package client provides a client for a running catwatch daemon.
//
// Queries go over plain HTTP. The live feed is a WebSocket session with an
// explicit connection state machine; Reconnect reopens it after a drop.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtxerr/catwatch/internal/api"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/stats"
	"github.com/xtxerr/catwatch/internal/storage/query"
	"github.com/xtxerr/catwatch/internal/types"
)

// =============================================================================
// Live Feed State Machine
// =============================================================================

// FeedState is the connection state of the live feed.
type FeedState int32

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s FeedState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

type stateTransition struct {
	from FeedState
	to   FeedState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[stateTransition]bool{
	// From Disconnected
	{StateDisconnected, StateConnecting}: true,
	{StateDisconnected, StateClosed}:     true,

	// From Connecting
	{StateConnecting, StateConnected}:    true,
	{StateConnecting, StateDisconnected}: true,

	// From Connected
	{StateConnected, StateDisconnected}: true,
	{StateConnected, StateClosing}:      true,

	// From Closing
	{StateClosing, StateClosed}: true,
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed     = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnecting       = errors.New("connection already in progress")
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	// Addr is the daemon address, host:port or a full http(s) URL.
	Addr           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "localhost:5000",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client talks to one catwatch daemon.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	dialer  *websocket.Dialer

	// Live feed - protected by mu
	mu       sync.Mutex
	conn     *websocket.Conn
	readDone chan struct{}

	state atomic.Int32

	// Callbacks
	cbMu         sync.RWMutex
	onReading    func(types.Reading)
	onDisconnect func(error)
}

// New creates a client. The address is validated but nothing is dialed.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	addr := cfg.Addr
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", cfg.Addr, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("address %q: unsupported scheme %q", cfg.Addr, base.Scheme)
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		timeout: cfg.RequestTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
	}, nil
}

// =============================================================================
// Queries
// =============================================================================

// Latest returns the most recent reading. ok is false before the first one.
func (c *Client) Latest(ctx context.Context) (r types.Reading, ok bool, err error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/data", nil, &raw); err != nil {
		return types.Reading{}, false, err
	}

	// Before the first reading the daemon answers 200 with an error body.
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return types.Reading{}, false, nil
	}

	if err := json.Unmarshal(raw, &r); err != nil {
		return types.Reading{}, false, fmt.Errorf("decode reading: %w", err)
	}
	return r, true, nil
}

// History returns up to limit recent points, oldest first. Zero uses the
// daemon default.
func (c *Client) History(ctx context.Context, limit int) ([]types.HistoryPoint, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var points []types.HistoryPoint
	if err := c.get(ctx, "/history", q, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// DailyStats returns the statistics of one calendar day (YYYY-MM-DD).
// An empty date means today in the daemon's timezone.
func (c *Client) DailyStats(ctx context.Context, date string) (stats.DailyStats, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	var s stats.DailyStats
	err := c.get(ctx, "/stats/daily", q, &s)
	return s, err
}

// Health is the /system/health answer.
type Health struct {
	Score         float64       `json:"health_score"`
	Status        string        `json:"status"`
	AvgEfficiency float64       `json:"avg_efficiency"`
	AnomalyRatio  float64       `json:"anomaly_ratio"` // percent
	Readings      int           `json:"readings"`
	Ingest        *IngestStatus `json:"ingest,omitempty"`
}

// IngestStatus is the ingestion part of Health.
type IngestStatus struct {
	State            string    `json:"state"`
	Level            string    `json:"level"`
	FailureRatio     float64   `json:"failure_ratio"`
	SamplesReceived  int64     `json:"samples_received"`
	ReadingsIngested int64     `json:"readings_ingested"`
	Dropped          int64     `json:"dropped"`
	ParseErrors      int64     `json:"parse_errors"`
	DerivationErrors int64     `json:"derivation_errors"`
	StoreErrors      int64     `json:"store_errors"`
	LastIngest       time.Time `json:"last_ingest"`
	StopReason       string    `json:"stop_reason"`
}

// Health scores the last window readings. Zero uses the daemon default.
func (c *Client) Health(ctx context.Context, window int) (Health, error) {
	q := url.Values{}
	if window > 0 {
		q.Set("window", strconv.Itoa(window))
	}
	var h Health
	err := c.get(ctx, "/system/health", q, &h)
	return h, err
}

// SystemStats returns the daemon's component statistics as raw JSON.
func (c *Client) SystemStats(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.get(ctx, "/system/stats", nil, &raw)
	return raw, err
}

// ArchiveDaily returns per-day rollups of archived days in [from, to].
// Empty bounds are open.
func (c *Client) ArchiveDaily(ctx context.Context, from, to string) ([]query.Rollup, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	var rollups []query.Rollup
	if err := c.get(ctx, "/archive/daily", q, &rollups); err != nil {
		return nil, err
	}
	return rollups, nil
}

// ExportCSV streams the CSV export of the last hours to w and returns the
// suggested file name. Zero hours uses the daemon default.
func (c *Client) ExportCSV(ctx context.Context, hours float64, w io.Writer) (string, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.FormatFloat(hours, 'f', -1, 64))
	}

	resp, err := c.do(ctx, "/export/csv", q)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("read export: %w", err)
	}
	return filenameFrom(resp.Header.Get("Content-Disposition")), nil
}

func filenameFrom(disposition string) string {
	const key = "filename="
	if i := strings.Index(disposition, key); i >= 0 {
		return strings.Trim(disposition[i+len(key):], `"`)
	}
	return ""
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	resp, err := c.do(ctx, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do issues a GET and turns non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			apiErr.Message = body.Error
		}
		return nil, apiErr
	}
	return resp, nil
}

// =============================================================================
// State Transitions
// =============================================================================

func (c *Client) getState() FeedState {
	return FeedState(c.state.Load())
}

// transitionFrom moves from -> to if the edge is allowed and the state is
// still from.
func (c *Client) transitionFrom(from, to FeedState) bool {
	if !validTransitions[stateTransition{from: from, to: to}] {
		return false
	}
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// State returns the live feed state.
func (c *Client) State() FeedState {
	return c.getState()
}

// IsConnected returns true if the live feed is up.
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// =============================================================================
// Callbacks
// =============================================================================

// OnReading sets the handler for live readings.
// It runs on the feed's read goroutine.
func (c *Client) OnReading(fn func(types.Reading)) {
	c.cbMu.Lock()
	c.onReading = fn
	c.cbMu.Unlock()
}

// OnDisconnect sets the handler for an unexpected feed drop.
func (c *Client) OnDisconnect(fn func(error)) {
	c.cbMu.Lock()
	c.onDisconnect = fn
	c.cbMu.Unlock()
}

// =============================================================================
// Live Feed
// =============================================================================

// Connect opens the live feed and waits for the daemon's connect event.
func (c *Client) Connect(ctx context.Context) error {
	switch c.getState() {
	case StateClosed, StateClosing:
		return ErrClientClosed
	case StateConnected:
		return ErrAlreadyConnected
	case StateConnecting:
		return ErrConnecting
	}

	if !c.transitionFrom(StateDisconnected, StateConnecting) {
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	success := false
	defer func() {
		if !success {
			c.transitionFrom(StateConnecting, StateDisconnected)
		}
	}()

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return fmt.Errorf("dial: %w", err)
	}

	var ev api.Event
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	if err := conn.ReadJSON(&ev); err != nil || ev.Event != api.EventConnect {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected first event %q", ev.Event)
		}
		return fmt.Errorf("handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.readDone = done
	c.mu.Unlock()

	if !c.transitionFrom(StateConnecting, StateConnected) {
		conn.Close()
		return fmt.Errorf("cannot connect: current state is %s", c.getState())
	}

	go c.readLoop(conn, done)

	success = true
	return nil
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.JoinPath("/ws").String()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !c.transitionFrom(StateConnected, StateDisconnected) {
				// Close or Reconnect took the connection down.
				return
			}
			conn.Close()

			c.cbMu.RLock()
			fn := c.onDisconnect
			c.cbMu.RUnlock()
			if fn != nil {
				fn(err)
			}
			return
		}

		if ev.Event != api.EventSensorData || ev.Data == nil {
			continue
		}

		c.cbMu.RLock()
		fn := c.onReading
		c.cbMu.RUnlock()
		if fn != nil {
			fn(*ev.Data)
		}
	}
}

// dropConn closes the current feed connection and waits for its reader.
func (c *Client) dropConn() error {
	c.mu.Lock()
	conn, done := c.conn, c.readDone
	c.conn, c.readDone = nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	<-done
	return err
}

// Reconnect drops the live feed, if any, and opens it again.
func (c *Client) Reconnect(ctx context.Context) error {
	switch c.getState() {
	case StateClosed, StateClosing:
		return ErrClientClosed
	case StateConnected:
		c.transitionFrom(StateConnected, StateDisconnected)
	}
	c.dropConn()
	return c.Connect(ctx)
}

// Close ends the live feed permanently. Queries keep working.
func (c *Client) Close() error {
	for {
		switch c.getState() {
		case StateClosed, StateClosing:
			return nil
		case StateDisconnected:
			if c.transitionFrom(StateDisconnected, StateClosed) {
				return c.dropConn()
			}
		case StateConnected:
			if c.transitionFrom(StateConnected, StateClosing) {
				err := c.dropConn()
				c.transitionFrom(StateClosing, StateClosed)
				return err
			}
		case StateConnecting:
			// Let the dial settle into connected or disconnected.
			time.Sleep(10 * time.Millisecond)
		}
	}
}
