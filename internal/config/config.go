package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Path returns the user config file path (~/.config/foreman/foreman.jsonc).
func Path() (string, error) {
	userDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("determining user config dir: %w", err)
	}
	return filepath.Join(userDir, "foreman", "foreman.jsonc"), nil
}

// Load reads the user-level JSONC config, deep-merges it over the defaults,
// applies environment overrides, and returns the result unvalidated.
// Callers that run a process (as opposed to inspecting config) must follow
// up with Validate.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := Path()
	if err == nil {
		if userMap, err := loadJSONC(path); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map
// over it, then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	// Deep merge: src overrides dst
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// applyEnvOverrides applies environment variable overrides to the config.
// Credentials are only ever read here, at startup.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.Platform.Token = token
	}
	if cmd := os.Getenv("FOREMAN_AGENT_COMMAND"); cmd != "" {
		cfg.CLI.Command = cmd
	}
	if url := os.Getenv("FOREMAN_ORCHESTRATOR_URL"); url != "" {
		cfg.Worker.OrchestratorURL = url
	}
	if root := os.Getenv("FOREMAN_WORKSPACE_ROOT"); root != "" {
		cfg.Workspace.Root = root
	}
}

// DataDir returns the orchestrator data directory, honoring the configured
// override, then $XDG_DATA_HOME, then ~/.local/share.
func (c *Config) DataDir() string {
	if c.Orchestrator.DataDir != "" {
		return c.Orchestrator.DataDir
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(os.TempDir(), "foreman")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "foreman")
}
