package cmd

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSubCommand runs cmd until wait has passed, cancels it and checks that
// its output contains every one of outputAssertions, ignoring case.
func runSubCommand(t *testing.T, cmd *cobra.Command, wait time.Duration, outputAssertions []string) {
	_, stop := startSubCommand(t, cmd)

	// we need to wait for the command to start ...
	time.Sleep(wait)
	// ... then cancel it
	out, err := stop()
	require.NoError(t, err)

	lower := strings.ToLower(out)
	for _, oa := range outputAssertions {
		assert.Contains(t, lower, strings.ToLower(oa))
	}
}

// startSubCommand runs cmd in the background. output returns what it has
// printed so far. stop cancels the command, waits for it to return and
// reports its full output and error.
func startSubCommand(t *testing.T, cmd *cobra.Command) (output func() string, stop func() (string, error)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	buf := &syncBuffer{}

	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		setContext(cmd, ctx)
		runErr = runCaptured(cmd, buf)
	}()

	var once sync.Once
	stop = func() (string, error) {
		once.Do(func() {
			cancel()
			// don't return until the command has called wg.Done()
			wg.Wait()
		})
		return buf.String(), runErr
	}
	t.Cleanup(func() { _, _ = stop() })
	return buf.String, stop
}

var addrPattern = regexp.MustCompile(`addr=\[?[:\d.]*\]?:(\d+)`)

// waitForPort waits for a "listening" log line and returns the port it names.
func waitForPort(t *testing.T, output func() string, message string) string {
	t.Helper()
	var port string
	require.Eventually(t, func() bool {
		for _, line := range strings.Split(output(), "\n") {
			if !strings.Contains(line, message) {
				continue
			}
			if m := addrPattern.FindStringSubmatch(line); m != nil {
				port = m[1]
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "no %q line in:\n%s", message, output())
	return port
}

// prepare resets every flag and context and sets the arguments of the next
// run.
func prepare(args ...string) *cobra.Command {
	ResetFlags(rootCmd)
	setContext(rootCmd, context.Background())
	rootCmd.SetArgs(args)
	return rootCmd
}

// setContext sets ctx on cmd and all its subcommands. cobra hands the root
// context to a subcommand only on its first execution.
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}
