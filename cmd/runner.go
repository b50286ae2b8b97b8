package cmd

import (
	"bytes"
	"log"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandRunner executes cmd with stdout, stderr and the standard logger
// captured, and returns everything they printed. The output is returned even
// when the command fails.
func CommandRunner(cmd *cobra.Command) (string, error) {
	b := &syncBuffer{}
	err := runCaptured(cmd, b)
	return b.String(), err
}

func runCaptured(cmd *cobra.Command, b *syncBuffer) error {
	log.SetOutput(b)
	cmd.SetOut(b)
	cmd.SetErr(b)
	return cmd.Execute()
}

// ResetFlags puts every flag of cmd and its subcommands back to its default
// and clears its changed mark, so one execution does not leak into the next.
func ResetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		ResetFlags(sub)
	}
}

// syncBuffer is written by server goroutines while a command runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
