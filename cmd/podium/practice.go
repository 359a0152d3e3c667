package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"podium/internal/domain"
	"podium/internal/usecase"
)

const practiceHelp = "keys: s skip preparation | enter stop | r re-record | f finish | q exit | c retry save"

func newPracticeCmd(a *app) *cobra.Command {
	var (
		params  []string
		variant int
		date    string
	)
	cmd := &cobra.Command{
		Use:   "practice <activity-id>",
		Short: "Run a practice session in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := domain.Selection{ActivityID: args[0], Variant: variant}
			var err error
			if sel.Params, err = parseParams(params); err != nil {
				return err
			}
			if date != "" {
				if sel.Date, err = time.ParseInLocation(domain.DayLayout, date, time.Local); err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.practice(ctx, sel, isTerminal(a.in))
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "activity parameter as key=value (repeatable)")
	cmd.Flags().IntVar(&variant, "variant", 0, "topic variant for improvisation activities")
	cmd.Flags().StringVar(&date, "date", "", "practice date (YYYY-MM-DD) for daily activities")
	return cmd
}

func (a *app) practice(ctx context.Context, sel domain.Selection, interactive bool) error {
	loader, err := a.loader()
	if err != nil {
		return err
	}

	console := &consoleSink{out: a.out, interactive: interactive}
	services, err := a.build(ctx, loader, true, console)
	if err != nil {
		return err
	}
	defer services.Close()

	cfg, err := services.Resolver.Resolve(sel)
	if err != nil {
		return err
	}
	console.setConfig(cfg)

	controller := services.Controller
	if _, err := controller.Start(ctx, sel); err != nil {
		return err
	}
	if interactive {
		fmt.Fprintln(a.out, practiceHelp)
	}

	settled := make(chan error, 1)
	go func() {
		_, err := controller.Wait(ctx)
		settled <- err
	}()

	lines := readLines(a.in)
	for {
		select {
		case <-ctx.Done():
			_ = controller.Exit()
			return nil
		case err := <-settled:
			if errors.Is(err, usecase.ErrNoActiveSession) || errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil {
				return nil
			}
			fmt.Fprintf(a.out, "Saving failed: %v (c to retry, q to quit)\n", err)
		case line, ok := <-lines:
			if !ok {
				// Input closed: leave the session.
				_ = controller.Exit()
				return nil
			}
			done, err := a.command(ctx, controller, line)
			if err != nil {
				fmt.Fprintf(a.out, "! %v\n", domain.Describe(err).Message)
			}
			if done {
				return nil
			}
		}
	}
}

// command applies one line of input. It reports true once the session is
// over from the user's point of view.
func (a *app) command(ctx context.Context, controller *usecase.PracticeController, line string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s":
		return false, controller.SkipPreparation()
	case "":
		return false, controller.StopCapture()
	case "r":
		return false, controller.Rerecord()
	case "f":
		return false, controller.FinishEarly()
	case "q":
		err := controller.Exit()
		if errors.Is(err, usecase.ErrNoActiveSession) {
			err = nil
		}
		return true, err
	case "c":
		completion, err := controller.RetryCompletion(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Saved. Score %.0f, %d sessions in total.\n", completion.Record.AggregateScore, completion.Progress.TotalSessions)
		return true, nil
	case "?", "h":
		fmt.Fprintln(a.out, practiceHelp)
		return false, nil
	default:
		fmt.Fprintln(a.out, practiceHelp)
		return false, nil
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func parseParams(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", value)
		}
		params[key] = strings.TrimSpace(val)
	}
	return params, nil
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// consoleSink prints session progress as plain lines.
type consoleSink struct {
	out         io.Writer
	interactive bool

	mu       sync.Mutex
	cfg      domain.SessionConfig
	lastTick int64
}

func (c *consoleSink) setConfig(cfg domain.SessionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *consoleSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = -1

	round := fmt.Sprintf("[%d/%d]", state.CurrentRoundIndex+1, state.RoundCount)
	switch reason {
	case domain.SessionReasonStarted, domain.SessionReasonResumed:
		fmt.Fprintf(c.out, "%s (%d rounds)\n", c.cfg.Title, state.RoundCount)
		if reason == domain.SessionReasonResumed {
			fmt.Fprintf(c.out, "Resuming after %d recorded rounds.\n", len(state.RoundHistory))
		}
	case domain.SessionReasonPreparationStarted:
		if spec, ok := c.cfg.Round(state.CurrentRoundIndex); ok {
			fmt.Fprintf(c.out, "%s %s\n", round, spec.Prompt)
			if spec.Hint != "" {
				fmt.Fprintf(c.out, "      hint: %s\n", spec.Hint)
			}
		}
		fmt.Fprintf(c.out, "%s preparing (%s)\n", round, remaining(state.RemainingMs))
	case domain.SessionReasonPreparationSkipped, domain.SessionReasonPreparationElapsed, domain.SessionReasonCaptureRestarted:
		fmt.Fprintf(c.out, "%s recording (%s) press enter to stop\n", round, remaining(state.RemainingMs))
	case domain.SessionReasonCaptureStopped, domain.SessionReasonCaptureTimeLimit:
		fmt.Fprintf(c.out, "%s recording stopped\n", round)
	case domain.SessionReasonCaptureRejected, domain.SessionReasonDeviceFailed:
		if state.LastError != nil {
			fmt.Fprintf(c.out, "%s %s\n", round, state.LastError.Message)
		}
	case domain.SessionReasonAdvisoryRequested:
		fmt.Fprintf(c.out, "%s waiting for the counterpart...\n", round)
	case domain.SessionReasonRoundRecorded:
		if n := len(state.RoundHistory); n > 0 && state.RoundHistory[n-1].AdvisoryText != "" {
			fmt.Fprintf(c.out, "      counterpart: %s\n", state.RoundHistory[n-1].AdvisoryText)
		}
	case domain.SessionReasonCompleted, domain.SessionReasonFinishedEarly:
		fmt.Fprintf(c.out, "Session complete: %d rounds recorded.\n", len(state.RoundHistory))
	case domain.SessionReasonPersisted:
		fmt.Fprintln(c.out, "Progress saved.")
		for _, r := range state.RoundHistory {
			if r.Score != nil {
				fmt.Fprintf(c.out, "  round %d: %.0f\n", r.Round, *r.Score)
			}
		}
	case domain.SessionReasonExited:
		fmt.Fprintln(c.out, "Session exited.")
	}
}

func (c *consoleSink) CountdownTick(_ string, phase domain.Phase, left time.Duration) {
	if !c.interactive {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	secs := int64(left.Round(time.Second) / time.Second)
	if secs == c.lastTick || secs%10 != 0 && secs > 5 {
		return
	}
	c.lastTick = secs
	fmt.Fprintf(c.out, "      %s: %ds left\n", phase, secs)
}

func (c *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	if code == domain.ErrorCodePersistence {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "! %s: %s\n", code, detail)
}

func remaining(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
