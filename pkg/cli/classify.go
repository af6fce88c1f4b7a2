package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/onereach/deskshell/pkg/broker"
)

func classifyCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a hostname into a tenant",
		ArgsUsage: "<hostname>",
		Flags:     globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			hostname := c.Args().First()
			if hostname == "" {
				return goerr.New("hostname argument is required")
			}

			fc, err := cfg.loadFile()
			if err != nil {
				return err
			}

			classifier := broker.NewClassifier(fc.Tenants)
			result, err := classifier.Classify(hostname)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "tenant:    %s\n", result.Tenant)
			fmt.Fprintf(c.Root().Writer, "uiDomain:  %s\n", result.UIDomain)
			fmt.Fprintf(c.Root().Writer, "apiDomain: %s\n", result.APIDomain)
			return nil
		},
	}
}
