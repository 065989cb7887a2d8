package ui

import (
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/nozo-moto/pingzilla/pkg/types"
	"github.com/rivo/tview"
)

const maxSampleRows = 60

// statsWindows are the windows shown in the stats panel, in minutes.
var statsWindows = []int{1, 5, 60}

// HistoryData is what the history page shows for the selected target.
type HistoryData struct {
	Targets []string
	Target  string
	Samples []types.Sample
	Stats   map[int]types.Statistics
}

func collectHistory(b Backend, selected string) HistoryData {
	targets := b.Targets()
	if selected == "" || !containsString(targets, selected) {
		selected = b.Primary()
	}
	data := HistoryData{
		Targets: targets,
		Target:  selected,
		Samples: b.History(selected),
		Stats:   make(map[int]types.Statistics, len(statsWindows)),
	}
	for _, w := range statsWindows {
		data.Stats[w] = b.Stats(selected, w)
	}
	return data
}

// HistoryView lists the targets on the left and the recent samples, stats
// and graph of the selected one on the right.
type HistoryView struct {
	grid        *tview.Grid
	targetList  *tview.Table
	sampleTable *tview.Table
	statsPanel  *tview.TextView
	graphPanel  *tview.TextView

	data HistoryData

	mu       sync.Mutex
	selected string
}

func NewHistoryView() *HistoryView {
	hv := &HistoryView{
		targetList:  tview.NewTable(),
		sampleTable: tview.NewTable(),
		statsPanel:  tview.NewTextView(),
		graphPanel:  tview.NewTextView(),
	}
	hv.setupUI()
	return hv
}

func (hv *HistoryView) setupUI() {
	hv.targetList.SetBorders(false).SetTitle(" Targets (↑↓ select) ").SetBorder(true)
	hv.targetList.SetSelectable(true, false)
	hv.targetList.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkBlue))

	hv.sampleTable.SetTitle(" Recent Samples ").SetBorder(true)
	hv.sampleTable.SetFixed(1, 0)

	hv.statsPanel.SetBorder(true).SetTitle(" Statistics ")
	hv.statsPanel.SetDynamicColors(true)

	hv.graphPanel.SetBorder(true).SetTitle(" Latency ")
	hv.graphPanel.SetDynamicColors(true)

	hv.grid = tview.NewGrid().
		SetRows(0, 0).
		SetColumns(28, 0).
		AddItem(hv.targetList, 0, 0, 2, 1, 0, 0, true).
		AddItem(hv.sampleTable, 0, 1, 1, 1, 0, 0, false).
		AddItem(tview.NewGrid().
			SetRows(0).
			SetColumns(30, 0).
			AddItem(hv.statsPanel, 0, 0, 1, 1, 0, 0, false).
			AddItem(hv.graphPanel, 0, 1, 1, 1, 0, 0, false),
			1, 1, 1, 1, 0, 0, false)

	hv.targetList.SetSelectionChangedFunc(func(row, column int) {
		if row >= 0 && row < len(hv.data.Targets) {
			hv.setSelected(hv.data.Targets[row])
		}
	})
}

func (hv *HistoryView) Primitive() tview.Primitive {
	return hv.grid
}

// Selected is the target picked in the list, or "" before the first update.
func (hv *HistoryView) Selected() string {
	hv.mu.Lock()
	defer hv.mu.Unlock()
	return hv.selected
}

func (hv *HistoryView) setSelected(t string) {
	hv.mu.Lock()
	hv.selected = t
	hv.mu.Unlock()
}

// Update redraws the page. It must run on the UI goroutine.
func (hv *HistoryView) Update(data HistoryData) {
	hv.data = data
	hv.setSelected(data.Target)
	hv.updateTargetList()
	hv.updateSampleTable()
	hv.updateStatsPanel()
	hv.graphPanel.SetText(formatGraph(data.Samples, maxSampleRows, graphHeight))
}

func (hv *HistoryView) updateTargetList() {
	hv.targetList.Clear()
	for row, t := range hv.data.Targets {
		hv.targetList.SetCell(row, 0, tview.NewTableCell(t))
		if t == hv.data.Target {
			hv.targetList.Select(row, 0)
		}
	}
}

func (hv *HistoryView) updateSampleTable() {
	hv.sampleTable.Clear()

	headers := []string{"Time", "Latency", "Method"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAttributes(tcell.AttrBold)
		hv.sampleTable.SetCell(0, col, cell)
	}

	// Newest first.
	row := 1
	for i := len(hv.data.Samples) - 1; i >= 0 && row <= maxSampleRows; i-- {
		s := hv.data.Samples[i]
		method := "-"
		if s.Method != nil {
			method = string(*s.Method)
		}
		color := tcell.ColorWhite
		if s.Failed() {
			color = tcell.ColorRed
		}
		hv.sampleTable.SetCell(row, 0, tview.NewTableCell(s.Timestamp.Format("15:04:05")))
		hv.sampleTable.SetCell(row, 1, tview.NewTableCell(formatLatency(s.LatencyMs)).SetTextColor(color))
		hv.sampleTable.SetCell(row, 2, tview.NewTableCell(method))
		row++
	}
}

func (hv *HistoryView) updateStatsPanel() {
	if hv.data.Target == "" {
		hv.statsPanel.SetText("No target selected")
		return
	}
	text := fmt.Sprintf("[yellow]Target:[white] %s\n", hv.data.Target)
	for _, w := range statsWindows {
		st := hv.data.Stats[w]
		text += fmt.Sprintf("\n[yellow]Last %dm[white] (%d pings)\n  min %s  avg %s  max %s\n  loss %.1f%%\n",
			w, st.TotalPings,
			formatOptMs(st.MinMs), formatOptMs(st.AvgMs), formatOptMs(st.MaxMs),
			st.PacketLossPct)
	}
	hv.statsPanel.SetText(text)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
