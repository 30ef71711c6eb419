// Package cmd wires the urfave/cli entrypoint: a small cli.App with
// one subcommand per runnable role, each loading config and handing
// off to an fx.App for its lifecycle.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chatmesh/gateway/config"
	"github.com/chatmesh/gateway/infra/tui"
)

const (
	ServiceName      = "chatmesh-gateway"
	ServiceNamespace = "chatmesh"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Realtime group-chat session and fan-out gateway",
		Commands: []*cli.Command{
			serverCmd(),
			dashboardCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFileFlag = &cli.StringFlag{
	Name:  "config_file",
	Usage: "Path to the configuration file",
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the gateway: client websocket, admin gRPC, janitor",
		Flags:   []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			bootstrapLogger := slog.Default()
			cfg, err := config.Load(c.String("config_file"), bootstrapLogger)
			if err != nil {
				return err
			}

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

// dashboardCmd is the operator tool: a termui-based live view of one
// instance's occupancy, polling the
// /stats and /healthz endpoints the server command exposes rather
// than attaching to the process in-tree.
func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Live terminal dashboard for a running gateway instance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Base HTTP address of the gateway instance to watch",
				Value: "http://127.0.0.1:8080",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Poll interval",
				Value: 2 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			return tui.Run(c.Context, tui.Config{
				Addr:     c.String("addr"),
				Interval: c.Duration("interval"),
			})
		},
	}
}
