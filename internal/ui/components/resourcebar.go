package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	barStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	emptyBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// RenderResourceBar creates a visual progress bar for resource usage
func RenderResourceBar(label string, percent float64, width int) string {
	barWidth := width - len(label) - 10
	if barWidth < 10 {
		barWidth = 10
	}

	filled := int((percent / 100.0) * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	empty := barWidth - filled

	style := barStyle
	if percent >= 90 {
		style = criticalStyle
	} else if percent >= 75 {
		style = warningStyle
	}

	bar := style.Render(strings.Repeat("█", filled)) +
		emptyBarStyle.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%s [%s] %5.1f%%", label, bar, percent)
}

// RenderDeltaBar renders a before/after pair for one resource on one host
func RenderDeltaBar(label string, before, after float64, width int) string {
	arrow := "→"
	delta := after - before
	deltaStr := fmt.Sprintf("%+.1f%%", delta)
	switch {
	case delta < 0:
		deltaStr = barStyle.Render(deltaStr)
	case delta > 0:
		deltaStr = warningStyle.Render(deltaStr)
	}
	return fmt.Sprintf("%s  %5.1f%% %s %5.1f%%  (%s)", label, before, arrow, after, deltaStr)
}
