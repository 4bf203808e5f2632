package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

type callbackEntry struct {
	id      int
	handler Handler
}

type stateCallbackEntry struct {
	id       int
	callback func(StateChange)
}

// Client owns one logical connection to the push feed. It reconnects with
// exponential backoff after unexpected closes and fans envelopes out to
// subscribers in arrival order.
type Client struct {
	url     string
	dial    Dialer
	headers HeaderProvider
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics Metrics

	baseDelay    time.Duration
	maxAttempts  int
	pingInterval time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu              sync.Mutex
	state           State
	conn            Conn
	stopLoops       context.CancelFunc
	epoch           uint64
	attempts        int
	sessionID       string
	pendingRegister bool
	retry           clockwork.Timer
	retryGen        uint64

	cbM      sync.RWMutex
	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int

	wg sync.WaitGroup
}

type Option func(*Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBackoff sets the first reconnect delay and the number of consecutive
// attempts before the client gives up.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		if base > 0 {
			c.baseDelay = base
		}
		c.maxAttempts = maxAttempts
	}
}

// WithPingInterval sets the keepalive period; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

func NewClient(feedURL string, opts ...Option) *Client {
	c := &Client{
		url:          feedURL,
		clock:        clockwork.NewRealClock(),
		metrics:      nopMetrics{},
		state:        StateIdle,
		baseDelay:    DefaultBaseDelay,
		maxAttempts:  DefaultMaxAttempts,
		pingInterval: 30 * time.Second,
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = WebSocketDialer(c.headers)
	}
	c.logger = obslog.Or(c.logger).With(zap.String("component", "feed"))
	return c
}

// Connect opens the connection unless one is already open or opening. On an
// open connection a non-empty sessionID is registered in-band instead of
// reconnecting. A failed dial schedules the backoff sequence and returns a
// *TransportError.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		if sessionID == "" {
			c.mu.Unlock()
			return nil
		}
		c.sessionID = sessionID
		c.mu.Unlock()
		c.register(ctx, sessionID)
		return nil
	case StateConnecting:
		if sessionID != "" && sessionID != c.sessionID {
			c.sessionID = sessionID
			c.pendingRegister = true
		}
		c.mu.Unlock()
		return nil
	case StateClosedRetrying:
		c.cancelRetryLocked()
	default:
		c.attempts = 0
	}
	if sessionID != "" {
		c.sessionID = sessionID
	}
	c.state = StateConnecting
	gen := c.retryGen
	attempt := c.attempts
	c.mu.Unlock()

	c.emit(StateChange{State: StateConnecting, Attempt: attempt})
	return c.dialAndOpen(ctx, gen)
}

func (c *Client) dialAndOpen(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	target := c.dialURLLocked()
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := c.dial(dctx, target)
	cancel()

	c.mu.Lock()
	if gen != c.retryGen || c.state != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close("superseded")
		}
		return nil
	}
	if err != nil {
		change := c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		c.logger.Warn("feed_dial_failed", zap.String("url", target), zap.Error(err))
		c.emit(change)
		return &TransportError{Op: "dial", Err: err}
	}

	c.epoch++
	epoch := c.epoch
	c.conn = conn
	c.attempts = 0
	c.state = StateOpen
	loopCtx, stop := context.WithCancel(context.Background())
	c.stopLoops = stop
	register, sid := c.pendingRegister, c.sessionID
	c.pendingRegister = false

	c.wg.Add(1)
	go c.listen(loopCtx, conn, epoch)
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(loopCtx, conn, epoch)
	}
	c.mu.Unlock()

	c.logger.Info("feed_connected", zap.String("url", target), zap.Uint64("epoch", epoch))
	c.emit(StateChange{State: StateOpen})
	if register && sid != "" {
		c.register(context.Background(), sid)
	}
	return nil
}

func (c *Client) dialURLLocked() string {
	if c.sessionID == "" {
		return c.url
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set("sessionId", c.sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) register(ctx context.Context, sessionID string) {
	env, err := NewEnvelope(dto.FeedRegister, dto.RegisterPayload{SessionID: sessionID})
	if err != nil {
		c.logger.Error("feed_register_encode", zap.Error(err))
		return
	}
	c.Send(ctx, env)
}

func (c *Client) listen(ctx context.Context, conn Conn, epoch uint64) {
	defer c.wg.Done()
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.connectionLost(conn, epoch, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.metrics.EnvelopeDropped("malformed")
			c.logger.Warn("feed_malformed_envelope", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if !c.isCurrent(epoch) {
			return
		}
		c.metrics.EnvelopeDelivered(env.Type)
		c.dispatch(env)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn Conn, epoch uint64) {
	defer c.wg.Done()
	t := c.clock.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.connectionLost(conn, epoch, err)
				return
			}
		}
	}
}

func (c *Client) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch && c.state == StateOpen
}

// connectionLost handles an unexpected close of the connection opened in epoch.
func (c *Client) connectionLost(conn Conn, epoch uint64, cause error) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.stopLoops != nil {
		c.stopLoops()
		c.stopLoops = nil
	}
	change := c.scheduleReconnectLocked(cause)
	c.mu.Unlock()

	_ = conn.Close("reconnect")
	c.logger.Warn("feed_connection_lost", zap.Uint64("epoch", epoch), zap.Error(cause))
	c.emit(change)
}

func (c *Client) scheduleReconnectLocked(cause error) StateChange {
	if c.attempts >= c.maxAttempts {
		c.state = StateExhausted
		c.logger.Error("feed_reconnect_exhausted", zap.Int("attempts", c.attempts))
		return StateChange{State: StateExhausted, Attempt: c.attempts, Err: cause}
	}
	c.attempts++
	delay := c.baseDelay << uint(c.attempts-1)
	c.state = StateClosedRetrying
	gen := c.retryGen
	c.retry = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.metrics.ReconnectScheduled(c.attempts, delay)
	c.logger.Info("feed_reconnect_scheduled", zap.Int("attempt", c.attempts), zap.Duration("delay", delay))
	return StateChange{State: StateClosedRetrying, Attempt: c.attempts, Delay: delay, Err: cause}
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.retryGen || c.state != StateClosedRetrying {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = StateConnecting
	attempt := c.attempts
	c.mu.Unlock()

	c.emit(StateChange{State: StateConnecting, Attempt: attempt})
	_ = c.dialAndOpen(context.Background(), gen)
}

func (c *Client) cancelRetryLocked() {
	c.retryGen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// Disconnect closes the connection deliberately. Pending reconnects are
// cancelled and retry state is cleared.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.attempts = 0
	c.sessionID = ""
	c.pendingRegister = false
	conn := c.conn
	c.conn = nil
	if c.stopLoops != nil {
		c.stopLoops()
		c.stopLoops = nil
	}
	c.epoch++
	prev := c.state
	c.state = StateClosedClean
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close("client disconnect")
	}
	if prev != StateClosedClean {
		c.logger.Info("feed_disconnected", zap.String("from", string(prev)))
		c.emit(StateChange{State: StateClosedClean})
	}
}

// Close disconnects and waits for the connection goroutines to exit. It must
// not be called from a subscriber.
func (c *Client) Close(ctx context.Context) error {
	c.Disconnect()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Send writes env if the connection is open and silently drops it otherwise.
func (c *Client) Send(ctx context.Context, env Envelope) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		c.logger.Debug("feed_send_skipped", zap.String("type", env.Type))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("feed_send_encode", zap.String("type", env.Type), zap.Error(err))
		return
	}
	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := conn.Write(wctx, data); err != nil {
		c.logger.Debug("feed_send_failed", zap.String("type", env.Type), zap.Error(err))
	}
}

// Subscribe registers h for every envelope. The returned func unsubscribes
// and may be called at any time, including from inside h.
func (c *Client) Subscribe(h Handler) func() {
	c.cbM.Lock()
	c.nextCbID++
	id := c.nextCbID
	c.msgCbs = append(c.msgCbs, callbackEntry{id: id, handler: h})
	c.cbM.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.cbM.Lock()
			defer c.cbM.Unlock()
			for i, e := range c.msgCbs {
				if e.id == id {
					c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
					break
				}
			}
		})
	}
}

// OnFlightUpdate subscribes to flight:update envelopes and hands over the
// decoded flight batch.
func (c *Client) OnFlightUpdate(fn func([]dto.Flight)) func() {
	return c.Subscribe(func(env Envelope) {
		if env.Type != dto.FeedFlightUpdate {
			return
		}
		var p dto.FlightUpdatePayload
		if err := env.Decode(&p); err != nil {
			c.metrics.EnvelopeDropped("flight_update_shape")
			c.logger.Warn("feed_payload_dropped", zap.String("type", env.Type), zap.Error(err))
			return
		}
		fn(p.Flights)
	})
}

// OnStateChange registers cb for lifecycle transitions.
func (c *Client) OnStateChange(cb func(StateChange)) func() {
	c.cbM.Lock()
	c.nextCbID++
	id := c.nextCbID
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: id, callback: cb})
	c.cbM.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.cbM.Lock()
			defer c.cbM.Unlock()
			for i, e := range c.stateCbs {
				if e.id == id {
					c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Attempts: c.attempts, SessionID: c.sessionID, Epoch: c.epoch}
}

func (c *Client) dispatch(env Envelope) {
	c.cbM.RLock()
	entries := make([]callbackEntry, len(c.msgCbs))
	copy(entries, c.msgCbs)
	c.cbM.RUnlock()
	for _, e := range entries {
		if e.handler != nil {
			c.safeCall(env, e.handler)
		}
	}
}

func (c *Client) safeCall(env Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("feed_subscriber_panic", zap.String("type", env.Type), zap.Any("panic", r))
		}
	}()
	h(env)
}

func (c *Client) emit(change StateChange) {
	c.metrics.FeedState(change.State)
	c.cbM.RLock()
	entries := make([]stateCallbackEntry, len(c.stateCbs))
	copy(entries, c.stateCbs)
	c.cbM.RUnlock()
	for _, e := range entries {
		if e.callback != nil {
			e.callback(change)
		}
	}
}

// IsTransport reports whether err came from the feed connection.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
