package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

// ErrEmptyAirport is returned before any request when a guess has no airport.
var ErrEmptyAirport = errors.New("airport code must not be empty")

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// Metrics observes completed requests.
type Metrics interface {
	ObserveRequest(op string, status int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, int, time.Duration) {}

// Client is the request/response façade over the remote authority. It holds
// no session state and never retries unless WithRetry is set.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	limiter *rate.Limiter
	metrics Metrics
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry lets the caller opt into retrying transport failures and 5xx
// answers up to max attempts in total.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithRateLimit caps outgoing requests per second; zero disables the cap.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       1,
		metrics:        nopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = obslog.Or(c.logger)
	return c
}

func (c *Client) StartGame(ctx context.Context, req dto.StartGameRequest) (*dto.StartGameResponse, error) {
	var resp dto.StartGameResponse
	if err := c.doJSON(ctx, "start_game", fasthttp.MethodPost, "/game/start", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitGuess forwards the guess unvalidated except for emptiness; the
// authority decides whether the code is a known airport.
func (c *Client) SubmitGuess(ctx context.Context, req dto.GuessRequest) (*dto.GuessResponse, error) {
	if strings.TrimSpace(req.AirportIATA) == "" {
		return nil, ErrEmptyAirport
	}
	var resp dto.GuessResponse
	if err := c.doJSON(ctx, "submit_guess", fasthttp.MethodPost, "/game/guess", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) EndGame(ctx context.Context, req dto.EndGameRequest) (*dto.EndGameResponse, error) {
	var resp dto.EndGameResponse
	if err := c.doJSON(ctx, "end_game", fasthttp.MethodPost, "/game/end", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetLeaderboard(ctx context.Context, req dto.LeaderboardRequest) (*dto.LeaderboardResponse, error) {
	q := url.Values{}
	if req.Difficulty != "" {
		q.Set("difficulty", string(req.Difficulty))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	path := "/leaderboard"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var resp dto.LeaderboardResponse
	if err := c.doJSON(ctx, "get_leaderboard", fasthttp.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &dto.AuthorityError{Op: op, Message: "rate limit wait aborted", Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return &dto.AuthorityError{Op: op, Message: "request cancelled", Err: err}
		}

		started := time.Now()
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			c.metrics.ObserveRequest(op, 0, time.Since(started))
			lastErr = &dto.AuthorityError{Op: op, Message: err.Error(), Err: err}
			c.logger.Warn("authority_request_failed", zap.String("op", op), zap.String("request_id", requestID), zap.Int("attempt", attempt), zap.Error(err))
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		c.metrics.ObserveRequest(op, status, time.Since(started))
		if status < 200 || status >= 300 {
			lastErr = &dto.AuthorityError{Op: op, Status: status, Message: errorMessage(resp.Body(), status)}
			c.logger.Info("authority_rejected", zap.String("op", op), zap.String("request_id", requestID), zap.Int("status", status))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return &dto.AuthorityError{Op: op, Status: status, Message: "malformed response body", Err: err}
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = &dto.AuthorityError{Op: op, Message: "unknown error"}
	}
	return lastErr
}

// errorMessage extracts {"error": "..."} from a failure body.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(truncate(string(body), 256)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	if s := fasthttp.StatusMessage(status); s != "" && s != "Unknown Status Code" {
		return s
	}
	return "request failed"
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
