package main

import (
	"fmt"
	"os"

	cli "github.com/urfave/cli/v2"
)

const serviceName = "brokerd"

func main() {
	app := &cli.App{
		Name:        serviceName,
		Usage:       "non-custodial settlement daemon for relayer-matched swaps",
		Description: fmt.Sprintf("For help on any individual command run <%v COMMAND -h>", serviceName),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "path to a .env file (default: ./.env)"},
			&cli.StringFlag{Name: "data-dir", Usage: "directory for the order and fill store"},
			&cli.StringFlag{Name: "api-addr", Usage: "HTTP and websocket listen address"},
			&cli.StringFlag{Name: "log-file", Usage: "also write logs to this file"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: cli.Commands{
			runCmd,
			keygenCmd,
		},
		Action: runCmd.Action,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fail to run %v: %v\n", serviceName, err)
		os.Exit(1)
	}
}
