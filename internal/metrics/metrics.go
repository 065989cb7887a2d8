package metrics

import (
	"net/http"
	"sync"

	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pingzilla"

const (
	resultOK     = "ok"
	resultFailed = "failed"
	methodNone   = "none"
)

// Collector exports engine events as Prometheus metrics. It is an
// events.Sink and a notify.Notifier.
type Collector struct {
	registry *prometheus.Registry

	latency       *prometheus.GaugeVec
	probes        *prometheus.CounterVec
	siteUp        *prometheus.GaugeVec
	siteLatency   *prometheus.GaugeVec
	networkChange *prometheus.CounterVec
	notifications *prometheus.CounterVec

	siteMu    sync.Mutex
	siteWatch func() []types.SiteStatus
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_latency_ms",
			Help:      "Latency of the last successful probe per target.",
		}, []string{"target"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probes run, by target, method and result.",
		}, []string{"target", "method", "result"}),
		siteUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_up",
			Help:      "1 when the monitored site accepted a TCP connection on the last check.",
		}, []string{"url"}),
		siteLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_connect_ms",
			Help:      "TCP connect time of the last successful site check.",
		}, []string{"url"}),
		networkChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_changes_total",
			Help:      "Public network identity changes by type.",
		}, []string{"type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered by category.",
		}, []string{"category"}),
	}
	c.registry.MustRegister(
		c.latency,
		c.probes,
		c.siteUp,
		c.siteLatency,
		c.networkChange,
		c.notifications,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchSites makes every scrape refresh the site gauges from statuses, so
// connect times stay current between up/down flips.
func (c *Collector) WatchSites(statuses func() []types.SiteStatus) {
	c.siteMu.Lock()
	c.siteWatch = statuses
	c.siteMu.Unlock()
}

func (c *Collector) Handler() http.Handler {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.siteMu.Lock()
		watch := c.siteWatch
		c.siteMu.Unlock()
		if watch != nil {
			c.SiteStatusesChanged(watch())
		}
		h.ServeHTTP(w, r)
	})
}

func (c *Collector) SampleProduced(s types.Sample) {
	method := methodNone
	if s.Method != nil {
		method = string(*s.Method)
	}
	if s.Failed() {
		c.probes.WithLabelValues(s.Target, method, resultFailed).Inc()
		return
	}
	c.probes.WithLabelValues(s.Target, method, resultOK).Inc()
	c.latency.WithLabelValues(s.Target).Set(*s.LatencyMs)
}

func (c *Collector) SiteStatusesChanged(statuses []types.SiteStatus) {
	c.siteMu.Lock()
	defer c.siteMu.Unlock()
	c.siteUp.Reset()
	c.siteLatency.Reset()
	for _, st := range statuses {
		up := 0.0
		if st.IsUp {
			up = 1
		}
		c.siteUp.WithLabelValues(st.URL).Set(up)
		if st.LatencyMs != nil {
			c.siteLatency.WithLabelValues(st.URL).Set(*st.LatencyMs)
		}
	}
}

func (c *Collector) NetworkChanged(ev types.NetworkChangeEvent) {
	c.networkChange.WithLabelValues(string(ev.ChangeType)).Inc()
}

func (c *Collector) Notify(a notify.Alert) {
	c.notifications.WithLabelValues(string(a.Category)).Inc()
}

// ForgetTarget drops the series of a removed target.
func (c *Collector) ForgetTarget(target string) {
	c.latency.DeleteLabelValues(target)
	c.probes.DeletePartialMatch(prometheus.Labels{"target": target})
}
