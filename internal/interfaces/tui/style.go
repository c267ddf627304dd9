// Package tui implements the optional local terminal dashboard: a
// read-mostly bubbletea view onto a running Gateway for operators on a
// workstation without Telegram. It mirrors /status and /audit.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const appVersion = "0.2.0"

var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

var logoLines = []string{
	" ██████   █████  ███████ ███████  ██████ ██       █████  ██     ██",
	"██       ██   ██ ██      ██      ██      ██      ██   ██ ██     ██",
	"███████  ███████ █████   █████   ██      ██      ███████ ██  █  ██",
	"     ██  ██   ██ ██      ██      ██      ██      ██   ██ ██ ███ ██",
	"██████   ██   ██ ██      ███████  ██████ ██████  ██   ██  ███ ███ ",
}

var logoGradient = []lipgloss.Color{
	lipgloss.Color("#00FFFF"),
	lipgloss.Color("#00CFFF"),
	lipgloss.Color("#009FFF"),
	lipgloss.Color("#006FFF"),
	lipgloss.Color("#5F5FFF"),
}

func renderLogo(width int) string {
	if width < 72 {
		return lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◇  SAFECLAW")
	}
	var out string
	for i, line := range logoLines {
		c := logoGradient[i%len(logoGradient)]
		out += lipgloss.NewStyle().Foreground(c).Bold(true).Render(line) + "\n"
	}
	return out
}

func stateColor(state string) lipgloss.Color {
	switch {
	case strings.Contains(state, "awake"), strings.Contains(state, "action_pending"):
		return colorGreen
	case strings.Contains(state, "shutdown"):
		return colorRed
	default:
		return colorGray
	}
}
