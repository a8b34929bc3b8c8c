// Package metrics expõe as métricas Prometheus do gateway.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"college-gateway/middleware/ratelimit"
	"college-gateway/middleware/ratelimit/domain"
)

const namespace = "gateway"

// Collector agrupa todas as métricas do gateway.
type Collector struct {
	factory promauto.Factory

	// HTTP
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Rate limit
	RateLimitDecisions *prometheus.CounterVec
	StoreFallbacks     *prometheus.CounterVec

	// Circuit breaker
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec

	// Pool
	PoolWait         prometheus.Histogram
	PoolRejections   *prometheus.CounterVec
	OperationRetries prometheus.Counter

	// Cache / upstream
	CacheLookups    *prometheus.CounterVec
	UpstreamHealthy *prometheus.GaugeVec
}

// New registra as métricas em reg. Testes usam prometheus.NewRegistry() para
// não colidir com o registry global.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		factory: factory,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"method", "class", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "class", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),

		RateLimitDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limit decisions by endpoint class",
			},
			[]string{"class", "result"},
		),
		StoreFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_fallbacks_total",
				Help:      "Calls served by the local store because the shared store failed",
			},
			[]string{"store"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half_open)",
			},
			[]string{"key"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions",
			},
			[]string{"key", "to"},
		),
		BreakerRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_rejections_total",
				Help:      "Calls rejected without running because the breaker was open",
			},
			[]string{"key"},
		),

		PoolWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_wait_seconds",
				Help:      "Time spent waiting for a pool slot",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		PoolRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_rejections_total",
				Help:      "Admission rejections by reason",
			},
			[]string{"reason"},
		),
		OperationRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_retries_total",
				Help:      "Retries of operations run through the pool",
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups",
			},
			[]string{"result"},
		),
		UpstreamHealthy: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upstream_healthy",
				Help:      "1 when the upstream server passed its last health check",
			},
			[]string{"server"},
		),
	}
}

// RegisterPool expõe active/queued/max do pool como GaugeFunc.
func (c *Collector) RegisterPool(stats func() domain.PoolStats) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_active",
		Help:      "Pool slots in use",
	}, func() float64 { return float64(stats().Active) })
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_queued",
		Help:      "Callers waiting for a pool slot",
	}, func() float64 { return float64(stats().Queued) })
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_max",
		Help:      "Pool capacity",
	}, func() float64 { return float64(stats().Max) })
}

// ObserveDecision tem a assinatura de ratelimit.Options.OnDecision.
func (c *Collector) ObserveDecision(class string, dec domain.Decision) {
	result := "allowed"
	if !dec.Allowed {
		result = "denied"
	}
	c.RateLimitDecisions.WithLabelValues(class, result).Inc()
}

// Fallback devolve um hook para FallbackStore/FallbackCache.OnFallback.
func (c *Collector) Fallback(store string) func(error) {
	counter := c.StoreFallbacks.WithLabelValues(store)
	return func(error) { counter.Inc() }
}

// BreakerChanged tem a assinatura de application.Breaker.OnStateChange.
func (c *Collector) BreakerChanged(key string, _, to domain.BreakerState) {
	c.BreakerState.WithLabelValues(key).Set(float64(to))
	c.BreakerTransitions.WithLabelValues(key, to.String()).Inc()
}

// ObserveWait tem a assinatura de application.PoolAdmission.OnWait.
func (c *Collector) ObserveWait(d time.Duration) {
	c.PoolWait.Observe(d.Seconds())
}

// Retry tem a assinatura de application.PoolAdmission.OnRetry.
func (c *Collector) Retry(int, error) {
	c.OperationRetries.Inc()
}

// Rejected conta uma rejeição de admissão.
func (c *Collector) Rejected(err error) {
	var boe *domain.BreakerOpenError
	switch {
	case errors.As(err, &boe):
		c.BreakerRejections.WithLabelValues(boe.Key).Inc()
		c.PoolRejections.WithLabelValues("breaker_open").Inc()
	case errors.Is(err, domain.ErrQueueFull):
		c.PoolRejections.WithLabelValues("queue_full").Inc()
	case errors.Is(err, domain.ErrQueueTimeout):
		c.PoolRejections.WithLabelValues("queue_timeout").Inc()
	case errors.Is(err, domain.ErrPoolClosed):
		c.PoolRejections.WithLabelValues("closed").Inc()
	default:
		c.PoolRejections.WithLabelValues("other").Inc()
	}
}

// CacheLookup conta hit/miss do cache de respostas.
func (c *Collector) CacheLookup(hit bool) {
	if hit {
		c.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	c.CacheLookups.WithLabelValues("miss").Inc()
}

// UpstreamHealth tem a assinatura de upstream.Options.OnHealth.
func (c *Collector) UpstreamHealth(server string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	c.UpstreamHealthy.WithLabelValues(server).Set(v)
}

// Middleware registra contagem, duração e requisições em andamento.
// /metrics fica de fora.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		c.RequestsInFlight.Inc()
		defer c.RequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := statusLabel(ww.Status())
		class := ratelimit.EndpointClass(r.URL.Path)
		c.RequestsTotal.WithLabelValues(r.Method, class, status).Inc()
		c.RequestDuration.WithLabelValues(r.Method, class, status).Observe(time.Since(start).Seconds())
	})
}

// Handler serve as métricas do gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// statusLabel devolve a classe do status code.
func statusLabel(status int) string {
	switch {
	case status == 0:
		return "2xx"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
