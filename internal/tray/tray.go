package tray

import (
	"fmt"

	"github.com/nozo-moto/pingzilla/pkg/types"
)

const (
	happyBelowMs = 60.0
	angryBelowMs = 150.0

	failedLabel  = "---"
	waitingLabel = "..."
)

// Renderer draws a tray state. Implementations live outside the core.
type Renderer interface {
	Render(types.TrayRenderState)
}

type RendererFunc func(types.TrayRenderState)

func (f RendererFunc) Render(s types.TrayRenderState) { f(s) }

// IconFor maps a latency to an icon class. nil means the probe failed.
func IconFor(latencyMs *float64) types.IconClass {
	switch {
	case latencyMs == nil:
		return types.IconDead
	case *latencyMs < happyBelowMs:
		return types.IconHappy
	case *latencyMs < angryBelowMs:
		return types.IconAngry
	default:
		return types.IconSad
	}
}

// Render is a pure mapping from the primary target's latest sample and the
// display mode to what the tray shows. sample is nil before the first probe.
func Render(sample *types.Sample, mode types.DisplayMode) types.TrayRenderState {
	label := waitingLabel
	icon := types.IconDead
	if sample != nil {
		icon = IconFor(sample.LatencyMs)
		label = failedLabel
		if sample.LatencyMs != nil {
			label = fmt.Sprintf("%.0fms", *sample.LatencyMs)
		}
	}

	switch mode {
	case types.DisplayIconOnly:
		label = ""
	case types.DisplayPingOnly:
		icon = types.IconTransparent
	}
	return types.TrayRenderState{Icon: icon, Label: label}
}
