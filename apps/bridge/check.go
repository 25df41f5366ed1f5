package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mahaj/msgbridge/pkg/upstream"
)

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "Validate the config and check that the daemon is reachable",
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		client, err := upstream.New(cfg.Upstream.URL,
			upstream.WithTimeout(cfg.Upstream.Timeout),
			upstream.WithToken(cfg.Upstream.Token),
		)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx.Context, 5*time.Second)
		defer cancel()
		if err := client.Health(pingCtx); err != nil {
			return fmt.Errorf("daemon at %s is not healthy: %w", cfg.Upstream.URL, err)
		}
		fmt.Printf("config ok, daemon at %s is healthy\n", cfg.Upstream.URL)
		return nil
	},
}
