package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xll-gen/sct"
)

// run executes rootCmd with args. Tests cannot run in parallel since the
// command tree and its flags are package globals.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		outputFormat, configPath, regionPath, verbose, inspectAll = "table", "", "", false, false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"board", "host", "inspect"} {
		assert.Contains(t, out, name)
	}
}

func TestInspectJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sct0")
	r, err := sct.CreateRegion(path, sct.RegionSize())
	require.NoError(t, err)
	defer r.Close()
	b, err := sct.NewBoard(r, sct.NewChanInterrupt(), nil)
	require.NoError(t, err)

	out, err := run(t, "inspect", "--region", path, "-a", "-o", "json")
	require.NoError(t, err)

	var info sct.RegionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Ready)
	assert.Equal(t, b.Module().Session().String(), info.Session)
	assert.Len(t, info.Queues, 2*(sct.ClassCount+2))
}

func TestInspectTableShowsPendingInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sct0")
	r, err := sct.CreateRegion(path, sct.RegionSize())
	require.NoError(t, err)
	defer r.Close()
	_, err = sct.NewBoard(r, sct.NewChanInterrupt(), nil)
	require.NoError(t, err)

	// No host has drained INIT yet, so the board->host mgmt ring is full
	// of it and its records.
	out, err := run(t, "inspect", "--region", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mgmt")
	assert.Contains(t, out, "2305")
	assert.NotContains(t, out, "class 0 ")
}

func TestUnknownOutputFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sct0")
	r, err := sct.CreateRegion(path, sct.RegionSize())
	require.NoError(t, err)
	defer r.Close()

	_, err = run(t, "inspect", "--region", path, "-o", "xml")
	assert.Error(t, err)
}
