package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/api"
	"github.com/samcharles93/nanobridge/internal/bridge"
	"github.com/samcharles93/nanobridge/internal/portforward"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		rulesDB     string
		maxRules    int64
		upnp        bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the bridge REST API",
		Flags: append(append(commonBridgeFlags(), loggingFlags()...),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "rules-db",
				Usage:       "sqlite file persisting forwarding rules (empty disables persistence)",
				Destination: &rulesDB,
			},
			&cli.Int64Flag{
				Name:        "max-rules",
				Usage:       "forwarding rule limit",
				Value:       256,
				Destination: &maxRules,
			},
			&cli.BoolFlag{
				Name:        "upnp",
				Usage:       "allow UPnP port mappings",
				Destination: &upnp,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr, &rulesDB, &maxRules, &upnp)
			log := buildLogger()

			m, ok := bridge.ParseMode(mode)
			if !ok {
				return fmt.Errorf("unknown mode %q", mode)
			}

			b, err := bridge.New(bridge.Config{
				Mode:               m,
				AIEnabled:          aiEnabled,
				MaxPendingRequests: int(queueCap),
				BatchTimeout:       batchTimeout,
				ModelSeed:          modelSeed,
			}, &bridge.LoopbackForwarder{Log: log}, log)
			if err != nil {
				return err
			}
			if err := b.Start(); err != nil {
				return err
			}
			defer b.Shutdown()

			if snapshotPath != "" {
				if _, err := os.Stat(snapshotPath); err == nil {
					if err := b.Model().Load(snapshotPath); err != nil {
						return fmt.Errorf("load snapshot: %w", err)
					}
					log.Info("model snapshot loaded", "path", snapshotPath)
				}
			}

			var store *portforward.Store
			if rulesDB != "" {
				store, err = portforward.OpenStore(rulesDB)
				if err != nil {
					return fmt.Errorf("open rules db: %w", err)
				}
			}
			rules, err := portforward.NewTable(portforward.Config{
				MaxRules:    int(maxRules),
				UPnPEnabled: upnp,
			}, store, log)
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			defer func() { _ = rules.Close() }()

			server := api.NewServer(b, rules, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "mode", m.String())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
