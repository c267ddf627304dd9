package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/safeclaw/safeclaw/internal/domain/entity"
)

// GatewayView is the subset of Gateway the dashboard needs. A real
// *application.Gateway satisfies it; tests substitute a fake.
type GatewayView interface {
	Status() string
	Tools() []entity.ToolDefinition
	Audit(n int, eventType string) ([]entity.AuditEvent, error)
	Skills() []string
	Wake(ctx context.Context) error
	Sleep(ctx context.Context) error
}

type tab int

const (
	tabStatus tab = iota
	tabTools
	tabAudit
	tabSkills
	tabCount
)

func (t tab) title() string {
	switch t {
	case tabStatus:
		return "Status"
	case tabTools:
		return "Tools"
	case tabAudit:
		return "Audit"
	case tabSkills:
		return "Skills"
	default:
		return ""
	}
}

type keymap struct {
	next   key.Binding
	prev   key.Binding
	wake   key.Binding
	sleep  key.Binding
	refresh key.Binding
	quit   key.Binding
}

func defaultKeymap() keymap {
	return keymap{
		next:    key.NewBinding(key.WithKeys("tab", "l", "right")),
		prev:    key.NewBinding(key.WithKeys("shift+tab", "h", "left")),
		wake:    key.NewBinding(key.WithKeys("w")),
		sleep:   key.NewBinding(key.WithKeys("s")),
		refresh: key.NewBinding(key.WithKeys("r")),
		quit:    key.NewBinding(key.WithKeys("q", "ctrl+c")),
	}
}

// Model is the bubbletea model driving the dashboard.
type Model struct {
	gw       GatewayView
	keys     keymap
	active   tab
	viewport viewport.Model
	width    int
	height   int
	err      error
	lastTick time.Time
}

// New builds a dashboard Model against a live Gateway (or fake in tests).
func New(gw GatewayView) Model {
	return Model{
		gw:       gw,
		keys:     defaultKeymap(),
		active:   tabStatus,
		viewport: viewport.New(80, 20),
	}
}

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 8
		m.viewport.SetContent(m.renderActive())
		return m, nil

	case tickMsg:
		m.lastTick = time.Time(msg)
		m.viewport.SetContent(m.renderActive())
		return m, tickEvery()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.next):
			m.active = (m.active + 1) % tabCount
			m.viewport.SetContent(m.renderActive())
		case key.Matches(msg, m.keys.prev):
			m.active = (m.active - 1 + tabCount) % tabCount
			m.viewport.SetContent(m.renderActive())
		case key.Matches(msg, m.keys.wake):
			m.err = m.gw.Wake(context.Background())
			m.viewport.SetContent(m.renderActive())
		case key.Matches(msg, m.keys.sleep):
			m.err = m.gw.Sleep(context.Background())
			m.viewport.SetContent(m.renderActive())
		case key.Matches(msg, m.keys.refresh):
			m.viewport.SetContent(m.renderActive())
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	w := m.width
	if w <= 0 {
		w = 80
	}

	logo := renderLogo(w)
	tabsLine := renderTabs(m.active, w)
	body := m.viewport.View()
	footer := renderFooter(m.err, w)

	return fmt.Sprintf("%s\n%s\n%s\n%s", logo, tabsLine, body, footer)
}

func renderTabs(active tab, width int) string {
	var parts []string
	for t := tab(0); t < tabCount; t++ {
		style := lipgloss.NewStyle().Foreground(colorGray).Padding(0, 1)
		if t == active {
			style = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Padding(0, 1)
		}
		parts = append(parts, style.Render(t.title()))
	}
	return strings.Join(parts, "│")
}

func renderFooter(err error, width int) string {
	hint := lipgloss.NewStyle().Foreground(colorDim).
		Render("tab: switch · w: wake · s: sleep · r: refresh · q: quit")
	if err != nil {
		hint = lipgloss.NewStyle().Foreground(colorRed).Render("error: "+err.Error()) + "  " + hint
	}
	return hint
}

func (m Model) renderActive() string {
	switch m.active {
	case tabStatus:
		return m.renderStatus()
	case tabTools:
		return m.renderTools()
	case tabAudit:
		return m.renderAudit()
	case tabSkills:
		return m.renderSkills()
	default:
		return ""
	}
}

func (m Model) renderStatus() string {
	status := m.gw.Status()
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	valStyle := lipgloss.NewStyle().Foreground(stateColor(status)).Bold(true)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Gateway status"))
	sb.WriteString("\n\n  ")
	sb.WriteString(valStyle.Render(status))
	sb.WriteString("\n\n  ")
	sb.WriteString(lipgloss.NewStyle().Foreground(colorGray).Render(
		fmt.Sprintf("last refreshed %s", m.lastTick.Format("15:04:05"))))
	return sb.String()
}

func (m Model) renderTools() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	enabledStyle := lipgloss.NewStyle().Foreground(colorGreen)
	disabledStyle := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Tool registry"))
	sb.WriteString("\n\n")

	tools := m.gw.Tools()
	if len(tools) == 0 {
		sb.WriteString(disabledStyle.Render("  (no tools registered)"))
		return sb.String()
	}
	for _, t := range tools {
		style := disabledStyle
		mark := "○"
		if t.Status == entity.StatusEnabled {
			style = enabledStyle
			mark = "●"
		}
		sb.WriteString(fmt.Sprintf("  %s %-20s %s\n", style.Render(mark), t.Name,
			disabledStyle.Render(string(t.Provenance))))
	}
	return sb.String()
}

func (m Model) renderAudit() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(colorWhite)
	dimStyle := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Recent audit events"))
	sb.WriteString("\n\n")

	events, err := m.gw.Audit(30, "")
	if err != nil {
		sb.WriteString(dimStyle.Render("  (failed to load audit log: " + err.Error() + ")"))
		return sb.String()
	}
	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no audit events yet)"))
		return sb.String()
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		sb.WriteString(fmt.Sprintf("  %s %s\n",
			dimStyle.Render(e.Timestamp.Format("15:04:05")),
			rowStyle.Render(e.Type)))
	}
	return sb.String()
}

func (m Model) renderSkills() string {
	titleStyle := lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(colorWhite)
	dimStyle := lipgloss.NewStyle().Foreground(colorGray)

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Installed skills"))
	sb.WriteString("\n\n")

	skills := m.gw.Skills()
	if len(skills) == 0 {
		sb.WriteString(dimStyle.Render("  (no skills installed)"))
		return sb.String()
	}
	for _, s := range skills {
		sb.WriteString(fmt.Sprintf("  ▸ %s\n", rowStyle.Render(s)))
	}
	return sb.String()
}
