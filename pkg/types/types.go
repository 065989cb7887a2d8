package types

import "time"

// ProbeMethod identifies which strategy of the probe ladder produced a latency.
type ProbeMethod string

const (
	MethodICMP     ProbeMethod = "Icmp"
	MethodTCPDNS   ProbeMethod = "TcpDns"
	MethodTCPHTTPS ProbeMethod = "TcpHttps"
	MethodTCPHTTP  ProbeMethod = "TcpHttp"
)

// ProbeResult is the outcome of one probe. Both fields are nil when every
// strategy failed.
type ProbeResult struct {
	LatencyMs *float64
	Method    *ProbeMethod
}

// Sample is a single latency measurement for one target.
type Sample struct {
	Timestamp time.Time    `json:"timestamp"`
	LatencyMs *float64     `json:"latency_ms"`
	Target    string       `json:"target"`
	Method    *ProbeMethod `json:"method"`
}

// Failed reports whether the probe produced no latency.
func (s Sample) Failed() bool {
	return s.LatencyMs == nil
}

type Statistics struct {
	MinMs         *float64 `json:"min_ms"`
	MaxMs         *float64 `json:"max_ms"`
	AvgMs         *float64 `json:"avg_ms"`
	PacketLossPct float64  `json:"packet_loss_pct"`
	TotalPings    int      `json:"total_pings"`
	FailedPings   int      `json:"failed_pings"`
}

type DisplayMode string

const (
	DisplayIconOnly    DisplayMode = "IconOnly"
	DisplayPingOnly    DisplayMode = "PingOnly"
	DisplayIconAndPing DisplayMode = "IconAndPing"
)

// Valid reports whether m is one of the known display modes.
func (m DisplayMode) Valid() bool {
	switch m {
	case DisplayIconOnly, DisplayPingOnly, DisplayIconAndPing:
		return true
	}
	return false
}

type IconClass string

const (
	IconHappy       IconClass = "Happy"
	IconAngry       IconClass = "Angry"
	IconSad         IconClass = "Sad"
	IconDead        IconClass = "Dead"
	IconTransparent IconClass = "Transparent"
)

// TrayRenderState is what the menu bar collaborator draws.
type TrayRenderState struct {
	Icon  IconClass
	Label string
}

// Settings is the combined view returned to the UI.
type Settings struct {
	PrimaryTarget           string      `json:"primary_target"`
	NotificationThresholdMs uint32      `json:"notification_threshold_ms"`
	DisplayMode             DisplayMode `json:"display_mode"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
