// Package monitor renders live hub statistics of a running node in the
// terminal.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/webitel/im-live-service/internal/domain/model"
)

const (
	historySize = 120
	topCells    = 12
)

// Sampler turns consecutive snapshots into per-second rates.
type Sampler struct {
	prev     model.HubStats
	prevAt   time.Time
	rates    []float64
	hasPrev  bool
	capacity int
}

func NewSampler(capacity int) *Sampler {
	return &Sampler{capacity: capacity}
}

// Add records a snapshot and returns the publish rate since the previous one.
func (s *Sampler) Add(at time.Time, stats model.HubStats) float64 {
	var rate float64
	if s.hasPrev && at.After(s.prevAt) && stats.Published >= s.prev.Published {
		rate = float64(stats.Published-s.prev.Published) / at.Sub(s.prevAt).Seconds()
	}
	s.prev, s.prevAt, s.hasPrev = stats, at, true

	s.rates = append(s.rates, rate)
	if len(s.rates) > s.capacity {
		s.rates = s.rates[len(s.rates)-s.capacity:]
	}
	return rate
}

// Rates returns the recorded history, oldest first.
func (s *Sampler) Rates() []float64 {
	return append([]float64(nil), s.rates...)
}

// Summary is the text of the header panel.
func Summary(addr string, stats model.HubStats, rate float64) string {
	return fmt.Sprintf(
		"node: %s\nuptime: %s\nsubscriptions: %d\nbuffered: %d\npublished: %d (%.1f/s)\ndelivered: %d",
		addr,
		stats.Uptime.Truncate(time.Second),
		stats.TotalSubscriptions,
		stats.Buffered,
		stats.Published, rate,
		stats.Delivered,
	)
}

// TopCells returns the n busiest event names, by subscriber count.
func TopCells(cells []model.CellStats, n int) ([]string, []float64) {
	sorted := append([]model.CellStats(nil), cells...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Subscribers != sorted[j].Subscribers {
			return sorted[i].Subscribers > sorted[j].Subscribers
		}
		return sorted[i].Name < sorted[j].Name
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	labels := make([]string, len(sorted))
	values := make([]float64, len(sorted))
	for i, c := range sorted {
		labels[i] = c.Name
		values[i] = float64(c.Subscribers)
	}
	return labels, values
}

// Run draws the dashboard until ctx is done or the user presses q.
func Run(ctx context.Context, client *Client, addr string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: init terminal: %w", err)
	}
	defer ui.Close()

	summary := widgets.NewParagraph()
	summary.Title = " im-live "

	spark := widgets.NewSparkline()
	spark.LineColor = ui.ColorGreen
	rates := widgets.NewSparklineGroup(spark)
	rates.Title = " published/s "

	cells := widgets.NewBarChart()
	cells.Title = " subscribers per event "
	cells.BarWidth = 6

	layout := func() {
		w, h := ui.TerminalDimensions()
		summary.SetRect(0, 0, w/3, 9)
		rates.SetRect(w/3, 0, w, 9)
		cells.SetRect(0, 9, w, h)
	}
	layout()

	sampler := NewSampler(historySize)
	refresh := func() {
		stats, err := client.Stats(ctx)
		if err != nil {
			summary.Text = err.Error()
			ui.Render(summary)
			return
		}
		rate := sampler.Add(time.Now(), stats)
		summary.Text = Summary(addr, stats, rate)
		spark.Data = sampler.Rates()
		cells.Labels, cells.Data = TopCells(stats.Cells, topCells)
		ui.Render(summary, rates, cells)
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				layout()
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}
