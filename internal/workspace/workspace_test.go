package workspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/foreman/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.WorkspaceConfig{Root: t.TempDir()}, slog.Default())
	require.NoError(t, err)
	return m
}

func TestNewManagerRejectsForbiddenPrefix(t *testing.T) {
	_, err := NewManager(config.WorkspaceConfig{
		Root:              t.TempDir(),
		ForbiddenPrefixes: []string{"/"},
	}, slog.Default())
	assert.ErrorContains(t, err, "forbidden prefix")
}

func TestNewManagerRejectsMissingRoot(t *testing.T) {
	_, err := NewManager(config.WorkspaceConfig{
		Root: filepath.Join(t.TempDir(), "does-not-exist"),
	}, slog.Default())
	assert.Error(t, err)
}

func TestAcquireAndRelease(t *testing.T) {
	m := testManager(t)

	ws, err := m.Acquire("worker-1", 42)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "issue-42"), ws.Path)
	assert.DirExists(t, ws.Path)

	require.NoError(t, m.Release(ws))
	assert.NoDirExists(t, ws.Path)

	// Releasing twice is safe.
	assert.NoError(t, m.Release(ws))
}

func TestAcquireClearsStaleWorkspace(t *testing.T) {
	m := testManager(t)

	stale := filepath.Join(m.Root(), "issue-7", "leftover")
	require.NoError(t, os.MkdirAll(stale, 0755))

	ws, err := m.Acquire("worker-1", 7)
	require.NoError(t, err)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, ws.Path)
}

func TestReleaseRefusesPathOutsideRoot(t *testing.T) {
	m := testManager(t)

	outside := t.TempDir()
	err := m.Release(&Workspace{Path: outside, IssueNumber: 1})
	assert.ErrorContains(t, err, "outside workspace root")
	assert.DirExists(t, outside)
}

func TestAcquireRejectsInvalidIssueNumber(t *testing.T) {
	m := testManager(t)
	_, err := m.Acquire("worker-1", 0)
	assert.Error(t, err)
}

func limitedManager(t *testing.T, limits config.WorkspaceLimits) (*Manager, *Workspace) {
	t.Helper()
	m, err := NewManager(config.WorkspaceConfig{Root: t.TempDir(), Limits: limits}, slog.Default())
	require.NoError(t, err)
	ws, err := m.Acquire("worker-1", 1)
	require.NoError(t, err)
	return m, ws
}

func TestCheckLimitsMaxFiles(t *testing.T) {
	m, ws := limitedManager(t, config.WorkspaceLimits{MaxFiles: 3})

	for i := 0; i < 3; i++ {
		name := filepath.Join(ws.Path, "file-"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0644))
	}
	assert.NoError(t, m.CheckLimits(ws))

	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "file-d"), []byte("x"), 0644))
	assert.ErrorContains(t, m.CheckLimits(ws), "more than 3 files")
}

func TestCheckLimitsMaxFileSize(t *testing.T) {
	m, ws := limitedManager(t, config.WorkspaceLimits{MaxFileSizeMB: 1})

	big := make([]byte, 1<<20+1)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "blob.bin"), big, 0644))
	assert.ErrorContains(t, m.CheckLimits(ws), "limit is 1 MB")
}

func TestCheckLimitsIgnoresGitDir(t *testing.T) {
	m, ws := limitedManager(t, config.WorkspaceLimits{MaxFiles: 1})

	gitDir := filepath.Join(ws.Path, ".git", "objects")
	require.NoError(t, os.MkdirAll(gitDir, 0755))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(gitDir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "work.txt"), []byte("x"), 0644))

	assert.NoError(t, m.CheckLimits(ws))
}

func TestCheckLimitsZeroMeansUnlimited(t *testing.T) {
	m, ws := limitedManager(t, config.WorkspaceLimits{})
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, os.WriteFile(filepath.Join(ws.Path, name), []byte("x"), 0644))
	}
	assert.NoError(t, m.CheckLimits(ws))
}
