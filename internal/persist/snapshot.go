package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nozo-moto/pingzilla/pkg/types"
)

// MaxSampleAge is how far back samples are kept when a snapshot is loaded.
const MaxSampleAge = 24 * time.Hour

// Snapshot is the persisted engine state, stored as one JSON document.
type Snapshot struct {
	History                 map[string][]types.Sample `json:"history"`
	Targets                 []string                  `json:"targets"`
	PrimaryTarget           string                    `json:"primary_target"`
	NotificationThresholdMs uint32                    `json:"notification_threshold_ms"`
	SiteMonitors            []types.SiteMonitorConfig `json:"site_monitors"`
	VPNSettings             types.VPNSettings         `json:"vpn_settings"`
	PingIntervalSecs        uint32                    `json:"ping_interval_secs"`
	DisplayMode             types.DisplayMode         `json:"display_mode,omitempty"`
}

var ErrEmptySnapshot = errors.New("empty snapshot")

func Encode(s Snapshot) ([]byte, error) {
	if s.History == nil {
		s.History = map[string][]types.Sample{}
	}
	if s.Targets == nil {
		s.Targets = []string{}
	}
	if s.SiteMonitors == nil {
		s.SiteMonitors = []types.SiteMonitorConfig{}
	}
	return json.MarshalIndent(s, "", "  ")
}

// Decode parses a snapshot document. A bare array of samples, the format
// written by early releases, is migrated into a snapshot with a single
// target taken from the first sample. Samples older than MaxSampleAge
// relative to now are dropped in both cases.
func Decode(data []byte, now time.Time) (Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Snapshot{}, ErrEmptySnapshot
	}

	var s Snapshot
	if trimmed[0] == '[' {
		var samples []types.Sample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return Snapshot{}, fmt.Errorf("decode legacy history: %w", err)
		}
		s = migrateLegacy(samples)
	} else {
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}

	s.History = filterHistory(s.History, now.Add(-MaxSampleAge))
	return s, nil
}

func migrateLegacy(samples []types.Sample) Snapshot {
	s := Snapshot{History: map[string][]types.Sample{}}
	if len(samples) == 0 {
		return s
	}
	target := samples[0].Target
	for i := range samples {
		if samples[i].Target == "" {
			samples[i].Target = target
		}
	}
	if target != "" {
		s.Targets = []string{target}
		s.PrimaryTarget = target
		s.History[target] = samples
	}
	return s
}

func filterHistory(history map[string][]types.Sample, cutoff time.Time) map[string][]types.Sample {
	out := make(map[string][]types.Sample, len(history))
	for target, samples := range history {
		kept := make([]types.Sample, 0, len(samples))
		for _, sample := range samples {
			if sample.Timestamp.After(cutoff) {
				kept = append(kept, sample)
			}
		}
		out[target] = kept
	}
	return out
}
