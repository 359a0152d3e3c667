package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"podium/internal/bootstrap"
	"podium/internal/config"
	"podium/internal/ports"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command shares.
type app struct {
	configPath string
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: &syncWriter{w: out}, errOut: errOut}

	root := &cobra.Command{
		Use:           "podium",
		Short:         "Timed speaking practice with an AI counterpart",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to podium.yaml")

	root.AddCommand(newActivitiesCmd(a))
	root.AddCommand(newPracticeCmd(a))
	root.AddCommand(newProgressCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newPlayCmd(a))
	return root
}

func (a *app) loader() (*config.Loader, error) {
	return config.NewLoader(a.configPath)
}

// build wires the backend. quiet raises the log level for commands that
// own the terminal.
func (a *app) build(ctx context.Context, loader *config.Loader, quiet bool, sinks ...ports.EventSink) (bootstrap.Services, error) {
	cfg := loader.Config()
	level := cfg.LogLevel
	if quiet && level != "debug" {
		level = "warn"
	}
	return bootstrap.Build(ctx, cfg, bootstrap.NewLogger(a.errOut, level), sinks...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// syncWriter serializes writes from the session goroutines and the command
// loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
