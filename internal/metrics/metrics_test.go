package metrics

import (
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Samples(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.SampleProduced(types.Sample{
		Timestamp: time.Now(),
		LatencyMs: types.Ptr(21.5),
		Target:    "1.1.1.1",
		Method:    types.Ptr(types.MethodICMP),
	})
	c.SampleProduced(types.Sample{Timestamp: time.Now(), Target: "1.1.1.1"})

	assert.Equal(t, 21.5, testutil.ToFloat64(c.latency.WithLabelValues("1.1.1.1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probes.WithLabelValues("1.1.1.1", "Icmp", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probes.WithLabelValues("1.1.1.1", methodNone, resultFailed)))

	c.ForgetTarget("1.1.1.1")
	assert.Equal(t, 0, testutil.CollectAndCount(c.latency))
	assert.Equal(t, 0, testutil.CollectAndCount(c.probes))
}

func TestCollector_SitesReplaceSeries(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.SiteStatusesChanged([]types.SiteStatus{
		{URL: "https://a.example", IsUp: true, LatencyMs: types.Ptr(40.0)},
		{URL: "https://b.example", IsUp: false},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.siteUp.WithLabelValues("https://a.example")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.siteUp.WithLabelValues("https://b.example")))

	c.SiteStatusesChanged([]types.SiteStatus{{URL: "https://b.example", IsUp: true}})
	assert.Equal(t, 1, testutil.CollectAndCount(c.siteUp))
	assert.Equal(t, 0, testutil.CollectAndCount(c.siteLatency))
}

func TestCollector_ChangesAndNotifications(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.NetworkChanged(types.NetworkChangeEvent{ChangeType: types.ChangeCountry})
	c.NetworkChanged(types.NetworkChangeEvent{ChangeType: types.ChangeCountry})
	c.Notify(notify.Alert{Category: notify.CategorySiteDown})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.networkChange.WithLabelValues("CountryChanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues("site_down")))
}

func TestCollector_Handler(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.Notify(notify.Alert{Category: notify.CategoryVPN})

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pingzilla_notifications_total{category="vpn"} 1`)
}

func TestCollector_WatchSitesRefreshesOnScrape(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		current = []types.SiteStatus{{URL: "https://a.example", IsUp: true, LatencyMs: types.Ptr(40.0)}}
	)
	c := NewCollector()
	c.WatchSites(func() []types.SiteStatus {
		mu.Lock()
		defer mu.Unlock()
		return append([]types.SiteStatus(nil), current...)
	})

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	scrape := func() string {
		resp, err := srv.Client().Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	body := scrape()
	assert.Contains(t, body, `pingzilla_site_up{url="https://a.example"} 1`)
	assert.Contains(t, body, `pingzilla_site_connect_ms{url="https://a.example"} 40`)

	mu.Lock()
	current = []types.SiteStatus{{URL: "https://a.example", IsUp: true, LatencyMs: types.Ptr(55.0)}}
	mu.Unlock()

	body = scrape()
	assert.Contains(t, body, `pingzilla_site_connect_ms{url="https://a.example"} 55`)
}
