package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/onereach/deskshell/pkg/broker"
	"github.com/onereach/deskshell/pkg/model"
)

func tokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Inspect or clear stored token records",
		Commands: []*cli.Command{
			tokensListCommand(),
			tokensClearCommand(),
		},
	}
}

func tokensListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List stored token records per tenant",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			store, err := loadStore(ctx, &cfg)
			if err != nil {
				return err
			}

			tenants := []model.Tenant{
				model.TenantProduction, model.TenantStaging,
				model.TenantEdison, model.TenantDev,
			}
			kinds := []model.TokenKind{model.TokenKindPrimary, model.TokenKindSession}

			now := time.Now()
			found := false
			for _, tenant := range tenants {
				for _, kind := range kinds {
					rec := store.Get(tenant, kind)
					if rec == nil {
						continue
					}
					found = true
					status := "valid"
					if !rec.Valid(now) {
						status = "expired"
					}
					fmt.Fprintf(c.Root().Writer, "%-12s %-8s %-8s value=%s captured=%s\n",
						tenant, kind, status, maskValue(rec.Value),
						time.UnixMilli(rec.CapturedAt).Format(time.RFC3339))
				}
			}
			if !found {
				fmt.Fprintln(c.Root().Writer, "no stored tokens")
			}
			return nil
		},
	}
}

func tokensClearCommand() *cli.Command {
	var (
		cfg    config
		tenant string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "tenant",
			Aliases:     []string{"t"},
			Usage:       "Clear only this tenant's tokens",
			Destination: &tenant,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Clear stored token records",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogging()

			store, err := loadStore(ctx, &cfg)
			if err != nil {
				return err
			}

			targets := []model.Tenant{
				model.TenantProduction, model.TenantStaging,
				model.TenantEdison, model.TenantDev,
			}
			if tenant != "" {
				t := model.Tenant(tenant)
				if err := t.Validate(); err != nil {
					return err
				}
				targets = []model.Tenant{t}
			}

			for _, t := range targets {
				store.Clear(ctx, t, model.TokenKindPrimary)
				store.Clear(ctx, t, model.TokenKindSession)
			}
			store.Sync(ctx)

			fmt.Fprintf(c.Root().Writer, "cleared tokens for %d tenant(s)\n", len(targets))
			return nil
		},
	}
}

// loadStore opens the settings-backed token store.
func loadStore(ctx context.Context, cfg *config) (*broker.Store, error) {
	settings, err := cfg.newSettings()
	if err != nil {
		return nil, err
	}
	store := broker.NewStore(settings)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// maskValue keeps a recognizable prefix without leaking the token.
func maskValue(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:6] + "…"
}
