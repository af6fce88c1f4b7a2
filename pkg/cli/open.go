package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/onereach/deskshell/pkg/adapter"
	"github.com/onereach/deskshell/pkg/broker"
	"github.com/onereach/deskshell/pkg/model"
)

func openCommand() *cli.Command {
	var (
		cfg       config
		partition string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "partition",
			Aliases:     []string{"p"},
			Usage:       "Partition identifier to open",
			Value:       "persist:tool-main",
			Destination: &partition,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:      "open",
		Usage:     "Open a partition against the in-memory session store and report injection",
		ArgsUsage: "<tenant>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			tenant := model.Tenant(c.Args().First())
			if tenant == "" {
				return goerr.New("tenant argument is required")
			}
			if err := tenant.Validate(); err != nil {
				return err
			}

			fc, err := cfg.loadFile()
			if err != nil {
				return err
			}
			settings, err := cfg.newSettings()
			if err != nil {
				return err
			}

			sessions := adapter.NewMemorySessionStore()
			b := broker.New(sessions, settings, fc.Tenants)
			if err := b.Store.Load(ctx); err != nil {
				return err
			}

			result, err := b.OpenPartition(ctx, tenant, partition)
			if err != nil {
				return err
			}

			if result == nil {
				fmt.Fprintf(c.Root().Writer,
					"partition %s opened, listener attached, no stored token to inject\n",
					partition)
				return nil
			}

			fmt.Fprintf(c.Root().Writer, "partition %s opened\n", partition)
			fmt.Fprintf(c.Root().Writer, "injected:  %v\n", result.Success)
			fmt.Fprintf(c.Root().Writer, "cookies:   %d\n", result.CookieCount)
			fmt.Fprintf(c.Root().Writer, "domains:   %s\n", strings.Join(result.Domains, ", "))
			return nil
		},
	}
}
