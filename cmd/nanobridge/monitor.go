package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/hotplug"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Watch USB hot-plug events and report matched drivers",
		Flags: loggingFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := buildLogger()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := hotplug.NewWatcher(nil, log)

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			events := w.Events()
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						events = nil
						continue
					}
					fmt.Printf("%s %s:%s %s\n", ev.Action, ev.VendorID, ev.ProductID, ev.DevPath)
					if ev.Driver != nil {
						fmt.Printf("  driver: %s (%s)\n", ev.Driver.DriverPath, ev.Driver.Description)
					}
				case err := <-done:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		},
	}
}
