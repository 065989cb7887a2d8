package types

import "time"

type SiteMonitorConfig struct {
	URL     string `json:"url" yaml:"url"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// SiteStatus is the last observed reachability of a monitored site.
// LastDown survives recoveries until the next down event replaces it.
type SiteStatus struct {
	URL       string     `json:"url"`
	IsUp      bool       `json:"is_up"`
	LatencyMs *float64   `json:"latency_ms"`
	LastCheck time.Time  `json:"last_check"`
	LastDown  *time.Time `json:"last_down"`
}

// IPInfo is the public network identity as reported by an identity service.
type IPInfo struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	City        string `json:"city,omitempty"`
	ISP         string `json:"isp,omitempty"`
}

type ChangeType string

const (
	ChangeIP      ChangeType = "IpChanged"
	ChangeCountry ChangeType = "CountryChanged"
	ChangeISP     ChangeType = "IspChanged"
	ChangeInitial ChangeType = "Initial"
)

type NetworkChangeEvent struct {
	ID         string     `json:"id"`
	ChangeType ChangeType `json:"change_type"`
	Previous   *IPInfo    `json:"previous"`
	Current    IPInfo     `json:"current"`
	Timestamp  time.Time  `json:"timestamp"`
	IsExpected bool       `json:"is_expected"`
}

type NetworkStability struct {
	ChangesLastHour   int        `json:"changes_last_hour"`
	LastCountryChange *time.Time `json:"last_country_change"`
	LastIPChange      *time.Time `json:"last_ip_change"`
	TunnelInterfaces  []string   `json:"tunnel_interfaces,omitempty"`
}

type VPNSettings struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	CheckIntervalSecs    uint32 `json:"check_interval_secs" yaml:"check_interval_secs"`
	AlertOnCountryChange bool   `json:"alert_on_country_change" yaml:"alert_on_country_change"`
	AlertOnIPChange      bool   `json:"alert_on_ip_change" yaml:"alert_on_ip_change"`
	ExpectedCountry      string `json:"expected_country,omitempty" yaml:"expected_country,omitempty"`
}
