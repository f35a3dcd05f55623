// Package metrics exposes the process's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry, so tests can build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	CatalogNodes    prometheus.Gauge
	SearchRetries   prometheus.Counter
	SearchTotal     *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	StoreRecords    *prometheus.GaugeVec
	RealtimeClients prometheus.Gauge
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_total",
			Help:      "Catalog refreshes by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_duration_seconds",
			Help:      "Time to fetch and project the catalog.",
			Buckets:   prometheus.DefBuckets,
		}),
		CatalogNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_nodes",
			Help:      "Nodes in the current catalog.",
		}),
		SearchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_retries_total",
			Help:      "Search attempts that failed and were retried.",
		}),
		SearchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Completion searches by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		StoreRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Records held by the store per collection.",
		}, []string{"collection"}),
		RealtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Connected realtime subscribers.",
		}),
	}
	registry.MustRegister(
		c.RefreshTotal,
		c.RefreshDuration,
		c.CatalogNodes,
		c.SearchRetries,
		c.SearchTotal,
		c.HTTPRequests,
		c.HTTPDuration,
		c.StoreRecords,
		c.RealtimeClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRefresh(elapsed time.Duration, err error, nodes int) {
	c.RefreshDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.RefreshTotal.WithLabelValues("failure").Inc()
		return
	}
	c.RefreshTotal.WithLabelValues("success").Inc()
	c.CatalogNodes.Set(float64(nodes))
}

func (c *Collector) ObserveSearch(outcome string) {
	c.SearchTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveSearchRetry(attempt int, err error) {
	c.SearchRetries.Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) SetStoreRecords(collection string, n int) {
	c.StoreRecords.WithLabelValues(collection).Set(float64(n))
}
