package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/orrn/slicer/internal/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProfilesTable(t *testing.T) {
	out, err := execute(t, "profiles", "-o", "table")
	require.NoError(t, err)
	require.Contains(t, out, "standard")
	require.Contains(t, out, "High Quality")
	require.Contains(t, out, "0.30mm")
	require.Contains(t, out, "╭")
}

func TestProfilesYAMLByDefaultWhenPiped(t *testing.T) {
	out, err := execute(t, "profiles")
	require.NoError(t, err)

	var defs []core.ProfileDefinition
	require.NoError(t, yaml.Unmarshal([]byte(out), &defs))
	require.Len(t, defs, len(core.DefaultProfiles()))
	require.Equal(t, "standard", defs[0].ID)
}

func TestProfilesRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "profiles", "-o", "csv")
	require.ErrorContains(t, err, "unsupported output")
}

func TestConfigCommandValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  worker_count: 0\n"), 0644))

	_, err := execute(t, "config", "--config", path)
	require.ErrorContains(t, err, "worker count")

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9300\n"), 0644))
	out, err := execute(t, "config", "-c", path)
	require.NoError(t, err)
	require.Contains(t, out, "port: 9300")
}
