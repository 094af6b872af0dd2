package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "0.1.0"

func newApp() *cli.App {
	return &cli.App{
		Name:    "dmcore",
		Usage:   "encrypted direct-messaging service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE` (TOML)",
				EnvVars: []string{"DMCORE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
