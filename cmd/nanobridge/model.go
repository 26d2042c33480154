package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/model"
)

func modelCmd() *cli.Command {
	return &cli.Command{
		Name:  "model",
		Usage: "Manage decision model snapshots",
		Commands: []*cli.Command{
			modelInitCmd(),
			modelInspectCmd(),
		},
	}
}

func modelInitCmd() *cli.Command {
	var (
		out      string
		seed     int64
		learning bool
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Create a fresh model snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "snapshot output path",
				Value:       "model.bin",
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight initialization seed",
				Destination: &seed,
			},
			&cli.BoolFlag{
				Name:        "learning",
				Usage:       "mark the snapshot learning-enabled",
				Value:       true,
				Destination: &learning,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m := model.New()
			if err := m.Init(model.Config{LearningEnabled: learning, Seed: seed}); err != nil {
				return err
			}
			if err := m.Save(out); err != nil {
				return err
			}
			fmt.Printf("snapshot written to %s\n", out)
			return nil
		},
	}
}

func modelInspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the statistics recorded in a snapshot",
		ArgsUsage: "<snapshot>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("snapshot path required")
			}

			m := model.New()
			if err := m.Load(path); err != nil {
				return err
			}

			s := m.Stats()
			live, recorded := m.HistoryLen()
			fmt.Printf("snapshot:           %s\n", path)
			fmt.Printf("requests processed: %d\n", s.RequestsProcessed)
			fmt.Printf("accuracy:           %.2f%%\n", s.Accuracy*100)
			fmt.Printf("avg latency:        %d us\n", s.AvgLatencyUS)
			fmt.Printf("history entries:    %d live, %d recorded\n", live, recorded)
			return nil
		},
	}
}
