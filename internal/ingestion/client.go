package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/logging"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

const (
	defaultBaseURL = "http://localhost:8000"

	// APIKeyHeader carries the telemetry API key on every request.
	APIKeyHeader = "X-API-Key"

	// DefaultHistoryLimit matches the server-side default for /telemetry.
	DefaultHistoryLimit = 1000

	// Connection pool settings
	maxIdleConns        = 32
	maxConnsPerHost     = 16
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	// Retry settings. Polls repeat every few seconds, so retries stay short.
	defaultMaxRetries = 2
	baseBackoff       = 250 * time.Millisecond
	maxBackoff        = 2 * time.Second
	backoffFactor     = 2.0
)

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ---------------------------------------------------------------------------
// Client with Connection Pooling
// ---------------------------------------------------------------------------

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithBaseURLOption sets the base URL.
func WithBaseURLOption(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithRetry sets how many times a failed request is retried and the first
// backoff delay. Later delays double up to a fixed cap.
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// WithHistoryLimit caps the number of points requested per aircraft.
func WithHistoryLimit(n int) ClientOption {
	return func(c *Client) { c.historyLimit = n }
}

// WithTimestampUnit tags fixes that do not declare a timestamp unit.
func WithTimestampUnit(u models.TimestampUnit) ClientOption {
	return func(c *Client) { c.timestampUnit = u }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Client fetches aircraft, telemetry history and regions of interest from
// the telemetry API.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	historyLimit  int
	timestampUnit models.TimestampUnit
	log           *logging.Logger
	metrics       *Metrics
}

// NewClient creates a telemetry API client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxConnsPerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		maxRetries:   defaultMaxRetries,
		backoff:      baseBackoff,
		historyLimit: DefaultHistoryLimit,
		metrics:      &Metrics{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithBaseURL overrides the API endpoint (useful for testing).
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// Metrics returns the client's request counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// FetchAircraft returns the aircraft snapshot. SelectionActive asks for
// aircraft with telemetry inside w; SelectionAll ignores w.
func (c *Client) FetchAircraft(ctx context.Context, sel models.Selection, w models.Window) ([]models.AircraftFix, error) {
	path := "/aircraft"
	var q url.Values
	if sel != models.SelectionAll {
		path = "/aircraft/active"
		q = windowQuery(w)
	}

	body, err := c.getWithRetry(ctx, metrics.SourceAircraft, path, q)
	if err != nil {
		return nil, fmt.Errorf("fetching aircraft: %w", err)
	}

	fixes, err := decodeList[models.AircraftFix](body)
	if err != nil {
		return nil, fmt.Errorf("parsing aircraft: %w", err)
	}
	for i := range fixes {
		fixes[i].ICAO24 = models.NormalizeICAO(fixes[i].ICAO24)
		if fixes[i].TimestampUnit == models.UnitUnknown {
			fixes[i].TimestampUnit = c.timestampUnit
		}
	}
	c.metrics.TotalAircraft.Add(int64(len(fixes)))
	return fixes, nil
}

// FetchHistory returns the telemetry of one aircraft inside w, oldest first.
func (c *Client) FetchHistory(ctx context.Context, icao24 string, w models.Window) ([]models.HistoryPoint, error) {
	icao24 = models.NormalizeICAO(icao24)
	if icao24 == "" {
		return nil, errors.New("fetching history: empty icao24")
	}

	q := windowQuery(w)
	if c.historyLimit > 0 {
		q.Set("limit", strconv.Itoa(c.historyLimit))
	}

	body, err := c.getWithRetry(ctx, metrics.SourceHistory, "/telemetry/"+url.PathEscape(icao24), q)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", icao24, err)
	}

	points, err := decodeList[models.HistoryPoint](body)
	if err != nil {
		return nil, fmt.Errorf("parsing history for %s: %w", icao24, err)
	}
	// The API returns newest first.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})
	c.metrics.TotalPoints.Add(int64(len(points)))
	return points, nil
}

// FetchRegions returns the regions of interest at the given level.
func (c *Client) FetchRegions(ctx context.Context, level int) ([]models.RegionOfInterest, error) {
	q := url.Values{}
	q.Set("level", strconv.Itoa(level))

	body, err := c.getWithRetry(ctx, metrics.SourceRegions, "/roi", q)
	if err != nil {
		return nil, fmt.Errorf("fetching regions: %w", err)
	}

	regions, err := decodeList[models.RegionOfInterest](body)
	if err != nil {
		return nil, fmt.Errorf("parsing regions: %w", err)
	}
	return regions, nil
}

// getWithRetry performs a GET with exponential backoff on transport errors,
// 429 and 5xx responses.
func (c *Client) getWithRetry(ctx context.Context, source, path string, q url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// Exponential backoff with cap
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			metrics.IngestionRetries.Inc()
			c.log.Debug("retrying request", "path", path, "attempt", attempt, "error", lastErr)
		}

		body, err := c.get(ctx, source, path, q)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, source, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	c.metrics.TotalRequests.Add(1)
	metrics.IngestionRequests.WithLabelValues(source).Inc()
	defer func() {
		latency := time.Since(start)
		c.metrics.RecordLatency(latency)
		metrics.IngestionLatency.WithLabelValues(source).Observe(latency.Seconds())
	}()

	body, err := c.do(req)
	if err != nil {
		c.metrics.FailedRequests.Add(1)
		metrics.IngestionErrors.WithLabelValues(source).Inc()
		return nil, err
	}
	c.metrics.SuccessRequests.Add(1)
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

func windowQuery(w models.Window) url.Values {
	q := url.Values{}
	if !w.Start.IsZero() {
		q.Set("start", strconv.FormatInt(w.Start.Unix(), 10))
	}
	if !w.Stop.IsZero() {
		q.Set("stop", strconv.FormatInt(w.Stop.Unix(), 10))
	}
	return q
}

// decodeList accepts a JSON array, a single object (wrapped into a one
// element list) or null (empty list).
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case trimmed == "" || trimmed == "null":
		return []T{}, nil
	case strings.HasPrefix(trimmed, "["):
		var out []T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = []T{}
		}
		return out, nil
	case strings.HasPrefix(trimmed, "{"):
		var one T
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	default:
		return nil, fmt.Errorf("expected array or object, got %.16q", trimmed)
	}
}
