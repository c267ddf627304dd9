package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the dashboard program against gw and blocks until the
// operator quits (q / Ctrl+C). It is the tui-package analogue of the
// teacher's RunREPL entrypoint, wired onto a read-mostly Gateway view
// instead of driving a conversation.
func Run(gw GatewayView) error {
	p := tea.NewProgram(New(gw), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
