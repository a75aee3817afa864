// knobd is the device firmware's desktop stand-in: the same session and
// interaction logic that runs on the knob, speaking the framed protocol
// over stdin/stdout so it can be piped to the host daemon or a test rig.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avolk/volknob/device"
	"github.com/avolk/volknob/endpoint"
	"github.com/avolk/volknob/transport"
)

func main() {
	serial := flag.String("serial", "", "device serial (defaults to hostname)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	// Stdout carries the wire protocol; logs go to stderr.
	logger := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logger))

	id := *serial
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "volknob-sim"
		}
		id = hostname
	}

	ep := endpoint.New(transport.NewStdio(os.Stdin, os.Stdout))
	session := device.NewSession(ep, id, device.DefaultBroadcastInterval)
	controller := device.NewController(ep, session, &device.SimEncoder{}, device.LogLeds{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Knob simulator started", "serial", id)
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			ep.Close()
			slog.Info("Shut down")
			return
		case now := <-ticker.C:
			if err := controller.Update(now); err != nil {
				slog.Error("Update failed", "error", err.Error())
				ep.Close()
				os.Exit(1)
			}
		}
	}
}
