package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/cmd"
)

// TestHelpCommandSmoke runs the binary's entry point with --help and checks
// that every subcommand is advertised.
func TestHelpCommandSmoke(t *testing.T) {
	oldArgs, oldStdout := os.Args, os.Stdout
	t.Cleanup(func() { os.Args, os.Stdout = oldArgs, oldStdout })
	os.Args = []string{"taskbridge", "--help"}

	// cobra prints help to os.Stdout unless told otherwise
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	read := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		read <- buf.String()
	}()

	cmd.Execute()
	require.NoError(t, w.Close())
	out := <-read

	assert.Contains(t, out, "Usage:")
	for _, sub := range []string{"serve", "stdio", "store", "probe"} {
		assert.Contains(t, out, sub)
	}
}
