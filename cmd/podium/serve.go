package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"podium/internal/live"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local practice API and live state feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	loader, err := a.loader()
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if addr == "" {
		addr = cfg.Server.Addr
	}

	hub := live.NewHub(cfg.Server.AllowedOrigins, nil)
	services, err := a.build(ctx, loader, false, hub)
	if err != nil {
		return err
	}
	defer services.Close()

	if loader.Watch(services.Reload) {
		services.Logger.Info("watching config", "file", loader.File())
	}

	server := live.NewServer(live.ServerDeps{
		Practice: services.Controller,
		Catalog:  services.Resolver.Catalog(),
		Store:    services.Store,
		Hub:      hub,
		UserID:   cfg.UserID,
		Logger:   services.Logger,
	}, cfg.Server.AllowedOrigins)

	fmt.Fprintf(a.out, "podium listening on http://%s\n", addr)
	return server.ListenAndServe(ctx, addr)
}
