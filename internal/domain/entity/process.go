package entity

import "time"

// ProcessSession is a background, long-running shell session tracked by
// ProcessRegistry (§3 ProcessSession, §4.3).
type ProcessSession struct {
	ID         string
	Command    string
	StartedAt  time.Time
	DiedAt     *time.Time
	ExitCode   *int
}

// Alive reports whether the process has not yet exited.
func (p *ProcessSession) Alive() bool {
	return p.DiedAt == nil
}
