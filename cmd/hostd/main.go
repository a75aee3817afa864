package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avolk/volknob/host"
	"github.com/avolk/volknob/web"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logger))

	cfg := host.DefaultConfig()
	if *configPath != "" {
		loaded, err := host.LoadConfig(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "error", err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}

	cache := host.NewBindingCache(cfg.CachePath)
	disc := host.NewDiscoverer(cfg, cache)
	controller := host.NewController(cfg, disc, cache, host.NewLoggingAudio(0.5))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DashboardAddr != "" {
		dashboard := web.NewDashboard(cfg.DashboardAddr)
		controller.SetStatusSink(dashboard)
		go func() {
			if err := dashboard.Start(); err != nil {
				slog.Error("Dashboard failed", "error", err.Error())
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			dashboard.Shutdown(shutdownCtx)
		}()
	}

	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Host controller stopped", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("Shut down")
}
