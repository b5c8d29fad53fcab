package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes an Engine to Prometheus. Values are read from the engine
// at scrape time, so nothing is duplicated on the hot path.
type Collector struct {
	engine *Engine

	httpReqs     *prometheus.Desc
	iterations   *prometheus.Desc
	dropped      *prometheus.Desc
	dataReceived *prometheus.Desc
	dataSent     *prometheus.Desc
	errors       *prometheus.Desc
	reqFailed    *prometheus.Desc
	checks       *prometheus.Desc
	vus          *prometheus.Desc
	reqDuration  *prometheus.Desc
}

// NewCollector creates a collector for engine. Metric names are prefixed with
// namespace.
func NewCollector(engine *Engine, namespace string) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }

	return &Collector{
		engine:       engine,
		httpReqs:     prometheus.NewDesc(name("http_reqs_total"), "HTTP requests completed.", nil, nil),
		iterations:   prometheus.NewDesc(name("iterations_total"), "VU iterations completed.", nil, nil),
		dropped:      prometheus.NewDesc(name("dropped_iterations_total"), "Iterations not started because no VU was free.", nil, nil),
		dataReceived: prometheus.NewDesc(name("data_received_bytes_total"), "Response bytes received.", nil, nil),
		dataSent:     prometheus.NewDesc(name("data_sent_bytes_total"), "Request bytes sent.", nil, nil),
		errors:       prometheus.NewDesc(name("errors_total"), "Iterations that failed at least one check.", nil, nil),
		reqFailed:    prometheus.NewDesc(name("http_req_failed_total"), "Requests with a transport error or status >= 400.", nil, nil),
		checks:       prometheus.NewDesc(name("checks_total"), "Check outcomes by check name.", []string{"check", "result"}, nil),
		vus:          prometheus.NewDesc(name("vus"), "Currently active virtual users.", nil, nil),
		reqDuration:  prometheus.NewDesc(name("http_req_duration_seconds"), "HTTP request duration quantiles.", []string{"quantile"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.httpReqs
	ch <- c.iterations
	ch <- c.dropped
	ch <- c.dataReceived
	ch <- c.dataSent
	ch <- c.errors
	ch <- c.reqFailed
	ch <- c.checks
	ch <- c.vus
	ch <- c.reqDuration
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.GetSnapshot()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.httpReqs, snap.HTTPReqs)
	counter(c.iterations, snap.Iterations)
	counter(c.dropped, snap.DroppedIterations)
	counter(c.dataReceived, snap.DataReceived)
	counter(c.dataSent, snap.DataSent)
	counter(c.errors, snap.Errors.Passes)
	counter(c.reqFailed, snap.HTTPReqFailed.Passes)

	for _, cc := range snap.CheckCounts {
		counter(c.checks, cc.Passes, cc.Name, "pass")
		counter(c.checks, cc.Fails, cc.Name, "fail")
	}

	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(snap.VUs.Value))

	quantiles := []struct {
		label string
		value float64
	}{
		{"0.5", snap.HTTPReqDuration.Med.Seconds()},
		{"0.9", snap.HTTPReqDuration.P90.Seconds()},
		{"0.95", snap.HTTPReqDuration.P95.Seconds()},
		{"0.99", snap.HTTPReqDuration.P99.Seconds()},
	}
	for _, q := range quantiles {
		ch <- prometheus.MustNewConstMetric(c.reqDuration, prometheus.GaugeValue, q.value, q.label)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
