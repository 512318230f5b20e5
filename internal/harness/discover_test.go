package harness

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	paths, err := Discover("testdata/suites")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "suites", "batch_sum.yaml"),
		filepath.Join("testdata", "suites", "passthrough.yaml"),
	}, paths)
}

func TestDiscover_SingleFile(t *testing.T) {
	paths, err := Discover("testdata/suites/batch_sum.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"testdata/suites/batch_sum.yaml"}, paths)
}

func TestDiscover_Nested(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0o755))
	for _, name := range []string{"b/two.yml", "a.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	paths, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b", "two.yml")}, paths)
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover("testdata/nope")
	require.Error(t, err)

	var dirErr *SuiteDirError
	require.True(t, errors.As(err, &dirErr))
	assert.Equal(t, "testdata/nope", dirErr.Dir)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestRunDir_AllPass(t *testing.T) {
	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	report, err := h.RunDir(t.Context(), "testdata/suites")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Zero(t, report.Failed)
	assert.True(t, report.OK())
	assert.Len(t, report.Results, 2)
}

func TestRunFiles_CountsFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: broken\n"), 0o644))

	failing := filepath.Join(dir, "failing.yaml")
	require.NoError(t, os.WriteFile(failing, []byte(`
name: failing
description: expects the wrong ledger size
scenario:
  nodes:
    - { id: src, type: DataSource, outputs: [{ name: out, destination_node_id: snk, destination_input_name: in }] }
    - { id: snk, type: Sink }
  events:
    - { id: e1, timestamp: 1, target_node_id: src, data: 1 }
assertions:
  - type: ledger_size
    count: 2
`), 0o644))

	h, err := New()
	require.NoError(t, err)
	defer h.Close()

	report := h.RunFiles(t.Context(), []string{broken, failing, "testdata/suites/passthrough.yaml"})
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 2, report.Failed)
	assert.False(t, report.OK())

	require.Len(t, report.Failures, 2)
	assert.Equal(t, broken, report.Failures[0].Path)
	assert.Contains(t, report.Failures[0].Errors[0], "description is required")
	assert.Equal(t, "failing", report.Failures[1].Suite)
	assert.Contains(t, report.Failures[1].Errors[0], "2 entries")
}
