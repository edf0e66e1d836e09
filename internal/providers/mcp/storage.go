package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

func (c *FileStorage) Path() string { return c.path }

// Load reads the config. A missing file yields an empty config.
func (c *FileStorage) Load(ctx context.Context) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *FileStorage) load(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.FromCtx(ctx).Debug().Str("path", c.path).Msg("mcp config not found")
			return &Config{MCPServers: make(map[string]ServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read mcp config: %w", err)
	}

	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse mcp config: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]ServerConfig)
	}
	return config, nil
}

func (c *FileStorage) Save(ctx context.Context, cfg *Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(cfg)
}

func (c *FileStorage) save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// EnsureBridge registers the bridge toolbox in the config, leaving any
// other servers the operator added untouched. It reports whether the file
// changed.
func (c *FileStorage) EnsureBridge(ctx context.Context, exe, runtimePath string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return false, fmt.Errorf("config directory: %w", err)
	}

	cfg, err := c.load(ctx)
	if err != nil {
		return false, err
	}

	want := BridgeServer(exe, runtimePath)
	if have, ok := cfg.MCPServers[ServerName]; ok && reflect.DeepEqual(have, want) {
		return false, nil
	}
	cfg.MCPServers[ServerName] = want

	if err := c.save(cfg); err != nil {
		return false, err
	}
	log.FromCtx(ctx).Info().Str("path", c.path).Str("command", exe).Msg("bridge toolbox registered")
	return true, nil
}
