// Package events carries the engine's outward notifications to whatever UI or
// exporter is listening.
package events

import (
	"sync"

	"github.com/nozo-moto/pingzilla/pkg/types"
)

type Sink interface {
	// SampleProduced is called once per probe.
	SampleProduced(types.Sample)
	// SiteStatusesChanged is called with every status after a sweep in which
	// a site was seen for the first time or flipped.
	SiteStatusesChanged([]types.SiteStatus)
	// NetworkChanged is called for every detected identity change, whether
	// or not an alert fired.
	NetworkChanged(types.NetworkChangeEvent)
}

// Discard ignores all events.
type Discard struct{}

func (Discard) SampleProduced(types.Sample) {}

func (Discard) SiteStatusesChanged([]types.SiteStatus) {}

func (Discard) NetworkChanged(types.NetworkChangeEvent) {}

// Fanout forwards each event to every non-nil sink in order.
func Fanout(sinks ...Sink) Sink {
	var out fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type fanout []Sink

func (f fanout) SampleProduced(s types.Sample) {
	for _, sink := range f {
		sink.SampleProduced(s)
	}
}

func (f fanout) SiteStatusesChanged(statuses []types.SiteStatus) {
	for _, sink := range f {
		sink.SiteStatusesChanged(statuses)
	}
}

func (f fanout) NetworkChanged(ev types.NetworkChangeEvent) {
	for _, sink := range f {
		sink.NetworkChanged(ev)
	}
}

// Recorder keeps every event it receives. It is meant for tests.
type Recorder struct {
	mu       sync.Mutex
	samples  []types.Sample
	sites    [][]types.SiteStatus
	networks []types.NetworkChangeEvent
}

func (r *Recorder) SampleProduced(s types.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *Recorder) SiteStatusesChanged(statuses []types.SiteStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites = append(r.sites, statuses)
}

func (r *Recorder) NetworkChanged(ev types.NetworkChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks = append(r.networks, ev)
}

func (r *Recorder) Samples() []types.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Sample(nil), r.samples...)
}

func (r *Recorder) Sites() [][]types.SiteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]types.SiteStatus(nil), r.sites...)
}

func (r *Recorder) Networks() []types.NetworkChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.NetworkChangeEvent(nil), r.networks...)
}
