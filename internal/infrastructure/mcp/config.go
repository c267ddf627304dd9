package mcp

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ServerConfig is one entry in mcp.json/mcp.yaml (§6 MCP interface): a
// named remote-tool server reached over stdio (required) or HTTP/WS
// (optional). Grounded on the teacher's config.MCPServerEntry, extended
// with the transport discriminator and stdio launch fields the teacher's
// HTTP-only adapter never needed.
type ServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"` // "stdio" | "http" | "ws"
	Command   string            `yaml:"command" json:"command"`     // stdio
	Args      []string          `yaml:"args" json:"args"`           // stdio
	Env       map[string]string `yaml:"env" json:"env"`             // stdio, passed after ${VAR} resolution
	Endpoint  string            `yaml:"endpoint" json:"endpoint"`   // http, ws
	Enabled   bool              `yaml:"enabled" json:"enabled"`
}

// FileConfig is the top-level shape of the MCP server configuration file.
type FileConfig struct {
	Servers []ServerConfig `yaml:"servers" json:"servers"`
}

var envPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig reads path (YAML, since SafeClaw's other persisted config
// uses gopkg.in/yaml.v3) and resolves every ${ENV} placeholder against the
// process environment, per §6 "resolving ${ENV} placeholders". A missing
// file is not an error — MCP is an optional collaborator; it yields an
// empty server list.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}

	resolved := envPlaceholderRe.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envPlaceholderRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	return &cfg, nil
}
