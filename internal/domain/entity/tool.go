package entity

import "time"

// ToolStatus is enabled/disabled, flipped by ToolRegistry.
type ToolStatus string

const (
	StatusEnabled  ToolStatus = "enabled"
	StatusDisabled ToolStatus = "disabled"
)

// Provenance identifies where a tool definition came from.
type Provenance string

const (
	ProvenanceBuiltin Provenance = "builtin"
	ProvenanceRemote  Provenance = "remote"
	ProvenanceDynamic Provenance = "dynamic"
)

// ToolDefinition is the uniform catalog entry for a tool, regardless of
// provenance (§3 ToolDefinition). Provenance-specific fields are optional
// and only populated for their owning provenance.
type ToolDefinition struct {
	Name        string
	Description string
	Dangerous   bool
	Status      ToolStatus
	Provenance  Provenance

	LastEnabledAt  *time.Time
	LastDisabledAt *time.Time

	// Remote (MCP) provenance
	RemoteServer       string
	RemoteOriginalName string
	RemoteSchema       map[string]interface{}

	// Dynamic skill provenance
	SkillName       string
	SkillParameters map[string]interface{}
}

// Kind returns the provenance discriminator, matching the teacher's
// "unified by an interface exposing {name, description, dangerous,
// status} plus a kind() discriminator" design note (§9).
func (d ToolDefinition) Kind() Provenance { return d.Provenance }
