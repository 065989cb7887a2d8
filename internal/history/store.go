package history

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nozo-moto/pingzilla/pkg/types"
)

// DefaultCapacity keeps 24 hours of samples at the default 10s interval.
// The cap is a count, so retention shrinks when the interval is shorter.
const DefaultCapacity = 8640

// Store holds a bounded, time-ordered sample sequence per target.
type Store struct {
	mu       sync.RWMutex
	capacity int
	samples  map[string][]types.Sample
	clock    clock.Clock
}

func NewStore(capacity int, clk clock.Clock) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		capacity: capacity,
		samples:  make(map[string][]types.Sample),
		clock:    clk,
	}
}

func (s *Store) Capacity() int {
	return s.capacity
}

// Append pushes sample onto target's tail, evicting from the head while the
// sequence is over capacity.
func (s *Store) Append(target string, sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := append(s.samples[target], sample)
	if over := len(seq) - s.capacity; over > 0 {
		// copy down so the evicted head can be collected
		seq = append(seq[:0], seq[over:]...)
	}
	s.samples[target] = seq
}

// Replace installs a whole sequence for target, keeping only the newest
// capacity samples.
func (s *Store) Replace(target string, samples []types.Sample) {
	if over := len(samples) - s.capacity; over > 0 {
		samples = samples[over:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[target] = append([]types.Sample(nil), samples...)
}

func (s *Store) Remove(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, target)
}

func (s *Store) Latest(target string) (types.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.samples[target]
	if len(seq) == 0 {
		return types.Sample{}, false
	}
	return seq[len(seq)-1], true
}

// History returns a copy of target's samples, oldest first.
func (s *Store) History(target string) []types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Sample(nil), s.samples[target]...)
}

func (s *Store) Len(target string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[target])
}

// Snapshot copies every target's history.
func (s *Store) Snapshot() map[string][]types.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]types.Sample, len(s.samples))
	for target, seq := range s.samples {
		out[target] = append([]types.Sample(nil), seq...)
	}
	return out
}

// Stats summarizes target's samples newer than now minus window.
func (s *Store) Stats(target string, window time.Duration) types.Statistics {
	since := s.clock.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summarize(s.samples[target], since)
}

// Summarize computes statistics over samples with a timestamp after since.
// Latency aggregates only consider successful samples and stay nil when
// there are none.
func Summarize(samples []types.Sample, since time.Time) types.Statistics {
	var (
		stats    types.Statistics
		sum      float64
		measured int
	)

	for _, sample := range samples {
		if !sample.Timestamp.After(since) {
			continue
		}
		stats.TotalPings++
		if sample.LatencyMs == nil {
			stats.FailedPings++
			continue
		}

		ms := *sample.LatencyMs
		if stats.MinMs == nil || ms < *stats.MinMs {
			stats.MinMs = types.Ptr(ms)
		}
		if stats.MaxMs == nil || ms > *stats.MaxMs {
			stats.MaxMs = types.Ptr(ms)
		}
		sum += ms
		measured++
	}

	if measured > 0 {
		stats.AvgMs = types.Ptr(sum / float64(measured))
	}
	if stats.TotalPings > 0 {
		stats.PacketLossPct = float64(stats.FailedPings) / float64(stats.TotalPings) * 100.0
	}
	return stats
}
