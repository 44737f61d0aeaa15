// Package workspace manages per-issue isolated directories. A workspace is
// owned by exactly one worker for its lifetime and is destroyed on every
// pipeline exit path, success or failure.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanmeadows/foreman/internal/config"
)

// defaultForbiddenPrefixes are system directories a workspace root may never
// resolve into. A configured forbidden_prefixes list replaces this set.
var defaultForbiddenPrefixes = []string{
	"/bin", "/boot", "/dev", "/etc", "/lib", "/lib64",
	"/proc", "/root", "/run", "/sbin", "/sys", "/usr", "/var",
}

// Workspace is one issue's isolated working directory.
type Workspace struct {
	Path        string
	IssueNumber int
	WorkerID    string
}

// Manager creates and destroys workspaces under a validated root.
type Manager struct {
	root      string
	forbidden []string
	limits    config.WorkspaceLimits
	log       *slog.Logger
}

// NewManager resolves and validates the workspace root. The root must be an
// existing directory whose resolved path is outside every forbidden prefix.
func NewManager(cfg config.WorkspaceConfig, log *slog.Logger) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root not configured")
	}

	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", cfg.Root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q does not exist: %w", abs, err)
	}

	forbidden := cfg.ForbiddenPrefixes
	if len(forbidden) == 0 {
		forbidden = defaultForbiddenPrefixes
	}
	for _, prefix := range forbidden {
		if isWithin(prefix, resolved) {
			return nil, fmt.Errorf("workspace root %q resolves inside forbidden prefix %q", resolved, prefix)
		}
	}

	// A workspace under the temp root survives reboots poorly but is not an
	// error; warn and continue.
	if isWithin(os.TempDir(), resolved) {
		log.Warn("workspace root is inside the temporary directory", "root", resolved)
	}

	return &Manager{root: resolved, forbidden: forbidden, limits: cfg.Limits, log: log}, nil
}

// Root returns the resolved workspace root.
func (m *Manager) Root() string { return m.root }

// Acquire creates the workspace directory for an issue. An existing directory
// from a previous crashed run is removed first so every pipeline starts from
// a clean clone.
func (m *Manager) Acquire(workerID string, issueNumber int) (*Workspace, error) {
	if issueNumber <= 0 {
		return nil, fmt.Errorf("invalid issue number %d", issueNumber)
	}
	path := filepath.Join(m.root, fmt.Sprintf("issue-%d", issueNumber))

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("clearing stale workspace %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", path, err)
	}

	m.log.Debug("workspace acquired", "path", path, "issue", issueNumber, "worker", workerID)
	return &Workspace{Path: path, IssueNumber: issueNumber, WorkerID: workerID}, nil
}

// Release destroys the workspace directory. Safe to call more than once.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	// Refuse to remove anything outside the managed root, whatever the
	// struct claims.
	if !isWithin(m.root, ws.Path) || ws.Path == m.root {
		return fmt.Errorf("refusing to release %q: outside workspace root %q", ws.Path, m.root)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("releasing workspace %s: %w", ws.Path, err)
	}
	m.log.Debug("workspace released", "path", ws.Path, "issue", ws.IssueNumber)
	return nil
}

// CheckLimits walks the workspace and reports the first configured limit it
// finds exceeded. The .git directory is excluded: object stores grow with the
// repository's history, not with what an agent produced. A zero limit means
// unlimited.
func (m *Manager) CheckLimits(ws *Workspace) error {
	var (
		totalBytes   int64
		files        int
		maxFileBytes = int64(m.limits.MaxFileSizeMB) * 1024 * 1024
		maxTotal     = int64(m.limits.MaxSizeMB) * 1024 * 1024
	)

	err := filepath.WalkDir(ws.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != ws.Path {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		files++
		totalBytes += info.Size()

		if maxFileBytes > 0 && info.Size() > maxFileBytes {
			rel, _ := filepath.Rel(ws.Path, path)
			return fmt.Errorf("file %s is %d MB, limit is %d MB", rel, info.Size()/(1024*1024), m.limits.MaxFileSizeMB)
		}
		if m.limits.MaxFiles > 0 && files > m.limits.MaxFiles {
			return fmt.Errorf("workspace holds more than %d files", m.limits.MaxFiles)
		}
		if maxTotal > 0 && totalBytes > maxTotal {
			return fmt.Errorf("workspace exceeds %d MB", m.limits.MaxSizeMB)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("workspace %s: %w", filepath.Base(ws.Path), err)
	}
	return nil
}

// isWithin reports whether path is prefix or lives under it.
func isWithin(prefix, path string) bool {
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}
