package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/park285/skyquest-client/internal/feed"
)

const namespace = "skyquest"

var feedStates = []feed.State{
	feed.StateIdle,
	feed.StateConnecting,
	feed.StateOpen,
	feed.StateClosedClean,
	feed.StateClosedRetrying,
	feed.StateExhausted,
}

// Collectors implements feed.Metrics and authority.Metrics on one registry.
type Collectors struct {
	feedState          *prometheus.GaugeVec
	reconnects         prometheus.Counter
	reconnectDelay     prometheus.Histogram
	envelopesDelivered *prometheus.CounterVec
	envelopesDropped   *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "state",
			Help:      "1 for the current feed connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected close.",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay of scheduled reconnects.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),
		envelopesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "envelopes_delivered_total",
			Help:      "Envelopes handed to subscribers, by type.",
		}, []string{"type"}),
		envelopesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes discarded before delivery, by reason.",
		}, []string{"reason"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "request_duration_seconds",
			Help:      "Authority request latency by operation and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
	}
	reg.MustRegister(c.feedState, c.reconnects, c.reconnectDelay, c.envelopesDelivered, c.envelopesDropped, c.requestDuration)
	c.FeedState(feed.StateIdle)
	return c
}

func (c *Collectors) FeedState(state feed.State) {
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.feedState.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Collectors) ReconnectScheduled(_ int, delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
}

func (c *Collectors) EnvelopeDelivered(typ string) {
	c.envelopesDelivered.WithLabelValues(typ).Inc()
}

func (c *Collectors) EnvelopeDropped(reason string) {
	c.envelopesDropped.WithLabelValues(reason).Inc()
}

// ObserveRequest records one authority call; status 0 means no response.
func (c *Collectors) ObserveRequest(op string, status int, d time.Duration) {
	c.requestDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
