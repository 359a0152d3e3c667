package main

import (
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"podium/internal/bootstrap"
	"podium/internal/config"
	"podium/internal/desktop"
)

//go:embed all:frontend/dist
var frontend embed.FS

func main() {
	configPath := flag.String("config", "", "path to podium.yaml")
	flag.Parse()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := loader.Config()
	logger := bootstrap.NewLogger(os.Stderr, cfg.LogLevel)

	app := desktop.NewApp(cfg, logger)
	if loader.Watch(app.Reload) {
		logger.Info("watching config", "file", loader.File())
	}

	assets, err := fs.Sub(frontend, "frontend/dist")
	if err != nil {
		logger.Error("load frontend", "err", err)
		os.Exit(1)
	}

	err = wails.Run(&options.App{
		Title:     "Podium",
		Width:     960,
		Height:    720,
		MinWidth:  640,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets:  assets,
			Handler: app,
		},
		OnStartup:  app.Startup,
		OnShutdown: app.Shutdown,
		Bind:       []interface{}{app},
	})
	if err != nil {
		logger.Error("wails run", "err", err)
		os.Exit(1)
	}
}
