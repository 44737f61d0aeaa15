// Package prompts holds the role system prompts for the pipeline agents.
// Each prompt is a markdown file with YAML frontmatter carrying the role
// name and its tool allowlist; the body is the system prompt text.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
)

//go:embed *.md
var builtinFS embed.FS

// Prompt is one agent role's configuration.
type Prompt struct {
	Role         string   `yaml:"role"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed_tools"`

	// System is the markdown body: the system prompt handed to the agent.
	System string `yaml:"-"`
}

// Load returns the prompt for the given file name (e.g. "architect.md").
// A user override at ~/.config/foreman/prompts/<name> wins over the
// embedded default.
func Load(name string) (*Prompt, error) {
	data, err := readPrompt(name)
	if err != nil {
		return nil, err
	}

	var p Prompt
	body, err := frontmatter.Parse(strings.NewReader(string(data)), &p)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt %s frontmatter: %w", name, err)
	}
	p.System = strings.TrimSpace(string(body))
	if p.Role == "" {
		return nil, fmt.Errorf("prompt %s missing role in frontmatter", name)
	}
	if p.System == "" {
		return nil, fmt.Errorf("prompt %s has an empty body", name)
	}
	return &p, nil
}

func readPrompt(name string) ([]byte, error) {
	if configDir, err := os.UserConfigDir(); err == nil {
		userPath := filepath.Join(configDir, "foreman", "prompts", name)
		if data, err := os.ReadFile(userPath); err == nil {
			return data, nil
		}
	}

	data, err := builtinFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("loading prompt %s: %w", name, err)
	}
	return data, nil
}

// List returns the names of all embedded prompt files.
func List() ([]string, error) {
	entries, err := builtinFS.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
