package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"
	"github.com/openmined/mirrorbox/internal/config"
	"github.com/openmined/mirrorbox/internal/report"
	"github.com/openmined/mirrorbox/internal/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workspace struct {
	root   string
	source string
	target string
	config string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	root := t.TempDir()
	w := &workspace{
		root:   root,
		source: filepath.Join(root, "src"),
		target: filepath.Join(root, "dst"),
		config: filepath.Join(root, "config.json"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(w.source, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(w.source, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.source, "docs", "b.txt"), []byte("beta"), 0o644))

	cfg := config.Config{
		SourceDir: w.source,
		Target: config.TargetConfig{
			Kind: config.TargetLocal,
			Path: w.target,
			Credentials: config.CredentialsConfig{
				KeySecret: "supersecret",
			},
		},
	}
	require.NoError(t, cfg.Save(w.config))
	return w
}

// execute runs sub under a fresh root so flag state never leaks between tests.
func execute(t *testing.T, sub *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	root := &cobra.Command{Use: "mirrorbox", SilenceErrors: true}
	addPersistentFlags(root)
	root.AddCommand(sub)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, newVersionCmd(), "version")
	require.NoError(t, err)
	assert.Equal(t, version.Detailed(), strings.TrimSpace(out))

	out, _, err = execute(t, newVersionCmd(), "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "mirrorbox", info.App)
}

func TestSyncCommand_JSONLines(t *testing.T) {
	w := newWorkspace(t)

	out, _, err := execute(t, newSyncCmd(), "sync", "--json", "-c", w.config)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var last report.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, 2, last.ProcessedFiles)
	assert.Equal(t, int64(9), last.TotalBytes)

	data, err := os.ReadFile(filepath.Join(w.target, "docs", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestSyncCommand_FlagOverridesConfigFile(t *testing.T) {
	w := newWorkspace(t)
	other := filepath.Join(w.root, "other")

	out, _, err := execute(t, newSyncCmd(), "sync", "-c", w.config, "--target", other)
	require.NoError(t, err)
	assert.Contains(t, out, "2 files")
	assert.FileExists(t, filepath.Join(other, "a.txt"))
	assert.NoDirExists(t, w.target)
}

func TestSyncCommand_EnvOverridesConfigFile(t *testing.T) {
	w := newWorkspace(t)
	other := filepath.Join(w.root, "from-env")
	t.Setenv("MIRRORBOX_TARGET_PATH", other)

	_, _, err := execute(t, newSyncCmd(), "sync", "-c", w.config)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(other, "a.txt"))
}

func TestSyncCommand_RejectsJSONWithTUI(t *testing.T) {
	w := newWorkspace(t)
	_, _, err := execute(t, newSyncCmd(), "sync", "-c", w.config, "--json", "--tui")
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestSyncCommand_MissingConfigFile(t *testing.T) {
	_, _, err := execute(t, newSyncCmd(), "sync", "-c", filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorContains(t, err, "config read")
}

func TestConfigCommand_PrintsMaskedYAML(t *testing.T) {
	w := newWorkspace(t)

	out, _, err := execute(t, newConfigCmd(), "config", "-c", w.config)
	require.NoError(t, err)
	assert.Contains(t, out, "source_dir: "+w.source)
	assert.Contains(t, out, "kind: local")
	assert.Contains(t, out, "key_secret: supe*****")
	assert.NotContains(t, out, "supersecret")
}

func TestCheckCommand(t *testing.T) {
	w := newWorkspace(t)

	out, _, err := execute(t, newCheckCmd(), "check", "-c", w.config)
	require.NoError(t, err)
	assert.Contains(t, out, "writable")

	out, _, err = execute(t, newCheckCmd(), "check", "-c", w.config, "--target", filepath.Join(w.source, "inner"))
	assert.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "inside source_dir")
}

func TestHistoryCommand(t *testing.T) {
	w := newWorkspace(t)
	dbPath := filepath.Join(w.root, "history.db")
	t.Setenv("MIRRORBOX_HISTORY_DB", dbPath)

	out, _, err := execute(t, newHistoryCmd(), "history", "-c", w.config)
	require.NoError(t, err)
	assert.Contains(t, out, "no history")

	_, _, err = execute(t, newSyncCmd(), "sync", "-c", w.config)
	require.NoError(t, err)

	out, _, err = execute(t, newHistoryCmd(), "history", "-c", w.config, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, filepath.ToSlash(filepath.Join(w.source, "docs", "b.txt")))
	assert.Contains(t, out, "1 rows")
}

func TestProgressModel(t *testing.T) {
	m := newProgressModel("/dst")
	assert.Contains(t, m.View(), "Mirroring to /dst")
	assert.Contains(t, m.View(), "0/0 files")

	next, _ := m.Update(snapshotMsg{ProcessedFiles: 1, TotalFiles: 2, ProcessedBytes: 5, TotalBytes: 9})
	m = next.(progressModel)
	assert.Contains(t, m.View(), "1/2 files")

	next, cmd := m.Update(syncDoneMsg{})
	m = next.(progressModel)
	assert.NotNil(t, cmd)
	assert.True(t, m.done)
	assert.Contains(t, m.View(), "Done")
}

func TestProgressModel_NarrowTerminal(t *testing.T) {
	next, _ := newProgressModel("/dst").Update(tea.WindowSizeMsg{Width: 2, Height: 10})
	assert.Equal(t, 1, next.(progressModel).bar.Width)

	next, _ = newProgressModel("/dst").Update(tea.WindowSizeMsg{Width: 200, Height: 10})
	assert.Equal(t, maxBarWidth, next.(progressModel).bar.Width)
}

func TestShortRunID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortRunID("0123abcd-ffff"))
	assert.Equal(t, "abc", shortRunID("abc"))
}
