package engine

import (
	"log/slog"

	"github.com/nozo-moto/pingzilla/internal/config"
	"github.com/nozo-moto/pingzilla/internal/persist"
	"github.com/nozo-moto/pingzilla/pkg/types"
)

// Settings is the user-adjustable state the engine starts from.
type Settings struct {
	Targets                 []string
	PrimaryTarget           string
	PingIntervalSecs        uint32
	NotificationThresholdMs uint32
	DisplayMode             types.DisplayMode
	SiteMonitors            []types.SiteMonitorConfig
	VPN                     types.VPNSettings
}

func SettingsFromConfig(cfg config.Config) Settings {
	config.ApplyDefaults(&cfg)
	return Settings{
		Targets:                 append([]string(nil), cfg.Targets...),
		PrimaryTarget:           cfg.PrimaryTarget,
		PingIntervalSecs:        cfg.PingIntervalSecs,
		NotificationThresholdMs: cfg.NotificationThresholdMs,
		DisplayMode:             cfg.DisplayMode,
		SiteMonitors:            append([]types.SiteMonitorConfig(nil), cfg.SiteMonitors...),
		VPN:                     *cfg.VPN,
	}
}

func validInterval(secs uint32) bool {
	return secs >= config.MinPingIntervalSecs && secs <= config.MaxPingIntervalSecs
}

// mergeSnapshot overlays persisted values onto base. Each field is taken
// from the snapshot only when it is valid on its own.
func mergeSnapshot(base Settings, snap persist.Snapshot, logger *slog.Logger) Settings {
	out := base

	if len(snap.Targets) > 0 {
		out.Targets = append([]string(nil), snap.Targets...)
		out.PrimaryTarget = out.Targets[0]
	}
	if snap.PrimaryTarget != "" {
		if containsTarget(out.Targets, snap.PrimaryTarget) {
			out.PrimaryTarget = snap.PrimaryTarget
		} else {
			logger.Warn("ignoring persisted primary target", "target", snap.PrimaryTarget)
		}
	} else if containsTarget(out.Targets, base.PrimaryTarget) {
		out.PrimaryTarget = base.PrimaryTarget
	}

	if snap.NotificationThresholdMs > 0 {
		out.NotificationThresholdMs = snap.NotificationThresholdMs
	}

	switch {
	case snap.PingIntervalSecs == 0:
	case validInterval(snap.PingIntervalSecs):
		out.PingIntervalSecs = snap.PingIntervalSecs
	default:
		logger.Warn("ignoring persisted ping interval", "secs", snap.PingIntervalSecs)
	}

	switch {
	case snap.DisplayMode == "":
	case snap.DisplayMode.Valid():
		out.DisplayMode = snap.DisplayMode
	default:
		logger.Warn("ignoring persisted display mode", "mode", snap.DisplayMode)
	}

	if snap.SiteMonitors != nil {
		out.SiteMonitors = append([]types.SiteMonitorConfig(nil), snap.SiteMonitors...)
	}

	if snap.VPNSettings.CheckIntervalSecs > 0 {
		out.VPN = snap.VPNSettings
	}
	return out
}

func containsTarget(targets []string, t string) bool {
	for _, v := range targets {
		if v == t {
			return true
		}
	}
	return false
}
