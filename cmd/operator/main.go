package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mmlu-operator",
		Usage: "Evaluate MMLU tasks and submit signed accuracy attestations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "optional YAML config file; environment variables take precedence",
				EnvVars: []string{"OPERATOR_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			StartCommand(),
			RegisterCommand(),
			StatusCommand(),
			VerifyCommand(),
			VersionCommand(),
		},
	}
}
