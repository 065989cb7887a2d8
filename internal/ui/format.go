package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/nozo-moto/pingzilla/internal/notify"
	"github.com/nozo-moto/pingzilla/pkg/types"
)

const (
	maxAlertLines = 8
	maxEventLines = 6
)

var iconGlyphs = map[types.IconClass]string{
	types.IconHappy:       "[green]●[white]",
	types.IconAngry:       "[yellow]●[white]",
	types.IconSad:         "[orange]●[white]",
	types.IconDead:        "[red]✗[white]",
	types.IconTransparent: " ",
}

func formatHeader(state types.TrayRenderState, primary string, now time.Time, suspended bool) string {
	label := state.Label
	if label == "" {
		label = "-"
	}
	text := fmt.Sprintf("%s [::b]%s[::-]  [gray]%s[white]  [cyan]%s[white]",
		iconGlyphs[state.Icon], label, primary, now.Format("2006-01-02 15:04:05"))
	if suspended {
		text += "  [red]SUSPENDED[white]"
	}
	return text
}

func latencyColor(ms *float64) string {
	switch {
	case ms == nil:
		return "[red]"
	case *ms < 60:
		return "[green]"
	case *ms < 150:
		return "[yellow]"
	default:
		return "[orange]"
	}
}

func formatLatency(ms *float64) string {
	if ms == nil {
		return "Timeout"
	}
	return fmt.Sprintf("%.0fms", *ms)
}

func formatOptMs(ms *float64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *ms)
}

// TargetRow is one line of the targets panel.
type TargetRow struct {
	Target  string
	Primary bool
	Latest  *types.Sample
	Stats   types.Statistics
}

func formatTargets(rows []TargetRow, windowMinutes int) string {
	if len(rows) == 0 {
		return "[gray]No targets"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%-22s %9s %-9s %6s %6s %6s %6s[white]\n",
		"Target", "Latest", "Method", "Min", "Avg", "Max", "Loss")
	b.WriteString(strings.Repeat("─", 72) + "\n")

	for _, r := range rows {
		name := r.Target
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		if r.Primary {
			name = "*" + name
		} else {
			name = " " + name
		}

		latest, method, color := "...", "", "[gray]"
		if r.Latest != nil {
			latest = formatLatency(r.Latest.LatencyMs)
			color = latencyColor(r.Latest.LatencyMs)
			if r.Latest.Method != nil {
				method = string(*r.Latest.Method)
			}
		}

		fmt.Fprintf(&b, "%-22s %s%9s[white] %-9s %6s %6s %6s %5.1f%%\n",
			name, color, latest, method,
			formatOptMs(r.Stats.MinMs), formatOptMs(r.Stats.AvgMs), formatOptMs(r.Stats.MaxMs),
			r.Stats.PacketLossPct)
	}
	fmt.Fprintf(&b, "\n[gray]stats over the last %dm, * marks the primary target[white]", windowMinutes)
	return b.String()
}

func formatSites(statuses []types.SiteStatus) string {
	if len(statuses) == 0 {
		return "[gray]No site checks yet"
	}

	var b strings.Builder
	for _, st := range statuses {
		symbol := "[green]✓[white]"
		if !st.IsUp {
			symbol = "[red]✗[white]"
		}
		fmt.Fprintf(&b, "%s %-32s %6s", symbol, st.URL, formatLatency(st.LatencyMs))
		if st.LastDown != nil {
			fmt.Fprintf(&b, "  [gray]down %s[white]", st.LastDown.Format("01-02 15:04"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatIdentity(info *types.IPInfo, stab types.NetworkStability, evs []types.NetworkChangeEvent) string {
	var b strings.Builder
	if info == nil {
		b.WriteString("[gray]Public IP not checked yet[white]\n")
	} else {
		fmt.Fprintf(&b, "[yellow]IP:[white] %s\n", info.IP)
		fmt.Fprintf(&b, "[yellow]Country:[white] %s (%s)\n", info.Country, info.CountryCode)
		if info.City != "" {
			fmt.Fprintf(&b, "[yellow]City:[white] %s\n", info.City)
		}
		if info.ISP != "" {
			fmt.Fprintf(&b, "[yellow]ISP:[white] %s\n", info.ISP)
		}
	}

	fmt.Fprintf(&b, "\n[yellow]Changes last hour:[white] %d\n", stab.ChangesLastHour)
	if stab.LastCountryChange != nil {
		fmt.Fprintf(&b, "[yellow]Last country change:[white] %s\n", stab.LastCountryChange.Format("15:04:05"))
	}
	if stab.LastIPChange != nil {
		fmt.Fprintf(&b, "[yellow]Last IP change:[white] %s\n", stab.LastIPChange.Format("15:04:05"))
	}
	if len(stab.TunnelInterfaces) > 0 {
		fmt.Fprintf(&b, "[yellow]Tunnels:[white] %s\n", strings.Join(stab.TunnelInterfaces, ", "))
	}

	if len(evs) == 0 {
		return b.String()
	}
	b.WriteString("\n")
	start := 0
	if len(evs) > maxEventLines {
		start = len(evs) - maxEventLines
	}
	for i := len(evs) - 1; i >= start; i-- {
		ev := evs[i]
		fmt.Fprintf(&b, "[gray]%s[white] %-14s %s", ev.Timestamp.Format("15:04:05"), ev.ChangeType, describeChange(ev))
		b.WriteString("\n")
	}
	return b.String()
}

func describeChange(ev types.NetworkChangeEvent) string {
	switch {
	case ev.Previous == nil:
		return ev.Current.IP
	case ev.ChangeType == types.ChangeCountry:
		return fmt.Sprintf("%s → %s", ev.Previous.CountryCode, ev.Current.CountryCode)
	case ev.ChangeType == types.ChangeISP:
		return fmt.Sprintf("%s → %s", ev.Previous.ISP, ev.Current.ISP)
	default:
		return fmt.Sprintf("%s → %s", ev.Previous.IP, ev.Current.IP)
	}
}

var severityColors = map[notify.Severity]string{
	notify.SeverityInfo:     "[white]",
	notify.SeverityWarning:  "[yellow]",
	notify.SeverityCritical: "[red]",
}

func formatAlerts(alerts []notify.Alert) string {
	if len(alerts) == 0 {
		return "[gray]No alerts"
	}
	var b strings.Builder
	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		fmt.Fprintf(&b, "[gray]%s[white] %s%s[white] %s\n",
			a.Timestamp.Format("15:04:05"), severityColors[a.Severity], a.Title, a.Body)
	}
	return b.String()
}

// formatGraph plots successful latencies as a column chart, oldest on the
// left. Failed probes are drawn as a red mark on the baseline.
func formatGraph(samples []types.Sample, width, height int) string {
	if len(samples) == 0 || width <= 0 || height <= 1 {
		return "[gray]Collecting latency data..."
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	maxMs := 0.0
	for _, s := range samples {
		if s.LatencyMs != nil && *s.LatencyMs > maxMs {
			maxMs = *s.LatencyMs
		}
	}

	grid := make([][]string, height)
	for i := range grid {
		grid[i] = make([]string, len(samples))
		for j := range grid[i] {
			grid[i][j] = " "
		}
	}
	for x, s := range samples {
		if s.LatencyMs == nil {
			grid[height-1][x] = "[red]▁[white]"
			continue
		}
		bar := 1
		if maxMs > 0 {
			bar = int(*s.LatencyMs / maxMs * float64(height))
			if bar < 1 {
				bar = 1
			}
		}
		color := latencyColor(s.LatencyMs)
		for y := height - bar; y < height; y++ {
			grid[y][x] = color + "█[white]"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[gray]max %.0fms[white]\n", maxMs)
	for _, row := range grid {
		b.WriteString(strings.Join(row, ""))
		b.WriteString("\n")
	}
	return b.String()
}

func nextDisplayMode(m types.DisplayMode) types.DisplayMode {
	switch m {
	case types.DisplayIconAndPing:
		return types.DisplayIconOnly
	case types.DisplayIconOnly:
		return types.DisplayPingOnly
	default:
		return types.DisplayIconAndPing
	}
}

func nextTarget(targets []string, primary string) (string, bool) {
	if len(targets) < 2 {
		return "", false
	}
	for i, t := range targets {
		if t == primary {
			return targets[(i+1)%len(targets)], true
		}
	}
	return targets[0], true
}
