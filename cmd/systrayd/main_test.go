package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()

	for _, name := range []string{"run", "watcher", "list", "activate", "secondary-activate", "context-menu", "scroll", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, flag := range []string{"config", "log-level", "log-to-file", "log-dir", "timeout", "format", "host-id", "watcher", "track-owners", "metrics-listen"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestActivateRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no index", args: []string{"activate"}},
		{name: "negative index", args: []string{"activate", "-1"}},
		{name: "single coordinate", args: []string{"activate", "0", "10"}},
		{name: "bad coordinate", args: []string{"context-menu", "0", "x", "10"}},
		{name: "bad delta", args: []string{"scroll", "0", "many"}},
		{name: "bad orientation", args: []string{"scroll", "0", "1", "diagonal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)

			assert.Error(t, root.Execute())
		})
	}
}

func TestParseIndex(t *testing.T) {
	index, err := parseIndex("3")
	require.NoError(t, err)
	assert.Equal(t, 3, index)

	for _, arg := range []string{"", "-1", "one", "1.5"} {
		_, err := parseIndex(arg)
		assert.Error(t, err, arg)
	}
}

func TestParseCoordinates(t *testing.T) {
	x, y, err := parseCoordinates(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), x)
	assert.Equal(t, int32(0), y)

	x, y, err = parseCoordinates([]string{"-20", "1080"})
	require.NoError(t, err)
	assert.Equal(t, int32(-20), x)
	assert.Equal(t, int32(1080), y)

	_, _, err = parseCoordinates([]string{"1"})
	assert.Error(t, err)

	_, _, err = parseCoordinates([]string{"1", "4294967296"})
	assert.Error(t, err)
}

func TestParseOrientation(t *testing.T) {
	for _, arg := range []string{"vertical", "horizontal"} {
		orientation, err := parseOrientation(arg)
		require.NoError(t, err)
		assert.Equal(t, arg, orientation)
	}

	_, err := parseOrientation("Vertical")
	assert.Error(t, err)
}
