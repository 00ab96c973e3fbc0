package main

import (
	"context"
	"fmt"
	"os"

	"github.com/helpdesk-sla/ticket-sla/internal/app"
	"github.com/helpdesk-sla/ticket-sla/internal/config"
	"github.com/helpdesk-sla/ticket-sla/internal/observability"
)

func main() {
	if err := newRootCmd(buildEnv).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildEnv(ctx context.Context) (*cliEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	env := &cliEnv{
		sla: rt.SLA,
		close: func() {
			rt.Close()
			_ = logger.Sync()
		},
	}
	if rt.Rules != nil && rt.Catalog != nil {
		env.importCatalog = rt.ImportCatalog
	}
	return env, nil
}
