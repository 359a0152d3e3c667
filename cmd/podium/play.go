package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPlayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play <recording-id>",
		Short: "Play back a saved recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := a.loader()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			services, err := a.build(ctx, loader, true)
			if err != nil {
				return err
			}
			defer services.Close()

			done := make(chan error, 1)
			if err := services.Play(ctx, args[0], func(err error) { done <- err }); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "playing %s (ctrl-c to stop)\n", args[0])

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return services.Controller.StopPlayback()
			}
		},
	}
}
