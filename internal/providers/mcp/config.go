package mcp

// ServerName is the key of the bridge entry in mcp_config.json.
const ServerName = "tuskbridge"

// Config mirrors the mcp_config.json layout read by the claude CLI.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig represents an entry in mcp_config.json
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// BridgeServer is the stdio entry that runs `<exe> mcp` against the given
// runtime dir.
func BridgeServer(exe, runtimePath string) ServerConfig {
	return ServerConfig{
		Command: exe,
		Args:    []string{"mcp"},
		Env:     map[string]string{"TUSK_RUNTIME_PATH": runtimePath},
	}
}
