package main

import (
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/logger"
)

var (
	mode         string
	aiEnabled    bool
	queueCap     int64
	batchTimeout time.Duration
	modelSeed    int64
	snapshotPath string
	driversDir   string
	logLevel     string
	logFormat    string
	debug        bool
)

func commonBridgeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "operating mode (passthrough, ai_assisted, ai_autonomous, learning)",
			Value:       "learning",
			Destination: &mode,
		},
		&cli.BoolFlag{
			Name:        "ai",
			Usage:       "enable the decision model",
			Value:       true,
			Destination: &aiEnabled,
		},
		&cli.Int64Flag{
			Name:        "queue-capacity",
			Aliases:     []string{"q"},
			Usage:       "max pending requests",
			Value:       1024,
			Destination: &queueCap,
		},
		&cli.DurationFlag{
			Name:        "batch-timeout",
			Usage:       "worker batch window",
			Value:       10 * time.Millisecond,
			Destination: &batchTimeout,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "model weight initialization seed",
			Destination: &modelSeed,
		},
		&cli.StringFlag{
			Name:        "snapshot",
			Usage:       "model snapshot to load on start",
			Destination: &snapshotPath,
		},
	}
}

func chipsetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "drivers-dir",
			Usage:       "directory holding chipset driver binaries",
			Value:       "/opt/drivers",
			Destination: &driversDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (text, json)",
			Value:       "text",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	if logFormat == "json" {
		return logger.JSON(os.Stderr, level)
	}
	return logger.Text(os.Stderr, level)
}

