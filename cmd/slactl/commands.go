package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/helpdesk-sla/ticket-sla/internal/catalog"
	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	"github.com/helpdesk-sla/ticket-sla/internal/service"
)

// slaOps is the part of the SLA service the CLI drives.
type slaOps interface {
	Tick(ctx context.Context) (*service.TickReport, error)
	RepinTicket(ctx context.Context, ticketID string) (*domain.TicketSLAState, error)
	PreviewDueDates(ctx context.Context, ticket domain.Ticket) (*service.DueDatePreview, error)
	ComplianceRate(ctx context.Context, entityID string, from, to time.Time) (*service.ComplianceReport, error)
	TicketsNearingBreach(ctx context.Context, window time.Duration) ([]service.NearingBreachEntry, error)
	Status(ctx context.Context, ticketID string) (*domain.TicketSLAState, error)
}

// cliEnv is what a command runs against.
type cliEnv struct {
	sla           slaOps
	importCatalog func(ctx context.Context) (catalog.ImportResult, error)
	close         func()
}

type envFactory func(ctx context.Context) (*cliEnv, error)

func newRootCmd(factory envFactory) *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:           "slactl",
		Short:         "Operate the ticket SLA tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "operation timeout")

	run := func(fn func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			env, err := factory(ctx)
			if err != nil {
				return err
			}
			if env.close != nil {
				defer env.close()
			}
			return fn(ctx, cmd, env)
		}
	}

	root.AddCommand(
		newTickCmd(run),
		newRepinCmd(run),
		newDueDateCmd(run),
		newComplianceCmd(run),
		newNearingCmd(run),
		newStatusCmd(run),
		newCatalogCmd(run),
	)
	return root
}

type runner func(fn func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error) func(*cobra.Command, []string) error

func newTickCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one tracker pass: backfill, breach, escalate, warn",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			report, err := env.sla.Tick(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		}),
	}
}

func newRepinCmd(run runner) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "repin TICKET_ID",
		Short: "Recompute a ticket's deadlines from the current rules",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm that pinned deadlines may change")
	cmd.RunE = func(c *cobra.Command, args []string) error {
		if !confirm {
			return fmt.Errorf("repin changes pinned deadlines; rerun with --confirm")
		}
		return run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			st, err := env.sla.RepinTicket(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})(c, args)
	}
	return cmd
}

func newDueDateCmd(run runner) *cobra.Command {
	var (
		entity   string
		priority string
		created  string
		attrs    []string
	)
	cmd := &cobra.Command{
		Use:   "due-date",
		Short: "Preview the rule and deadlines a ticket would get",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity id")
	cmd.Flags().StringVar(&priority, "priority", string(domain.TicketPriorityMedium), "ticket priority")
	cmd.Flags().StringVar(&created, "created", "", "creation instant, RFC 3339 (default now)")
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "ticket attribute as key=value, repeatable")
	_ = cmd.MarkFlagRequired("entity")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		ticket := domain.Ticket{
			ID:       "preview",
			EntityID: entity,
			Priority: domain.TicketPriority(strings.ToUpper(priority)),
			Status:   domain.TicketStatusOpen,
		}
		ticket.CreatedAt = time.Now()
		if created != "" {
			t, err := time.Parse(time.RFC3339, created)
			if err != nil {
				return fmt.Errorf("invalid --created: %w", err)
			}
			ticket.CreatedAt = t
		}
		parsed, err := parseAttributes(attrs)
		if err != nil {
			return err
		}
		ticket.Attributes = parsed
		return run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			preview, err := env.sla.PreviewDueDates(ctx, ticket)
			if err != nil {
				return err
			}
			return printJSON(cmd, preview)
		})(c, args)
	}
	return cmd
}

func newComplianceCmd(run runner) *cobra.Command {
	var (
		entity string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Report response and resolution compliance for a period",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity id (default all entities)")
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD or RFC 3339 (default 30 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "period end, YYYY-MM-DD or RFC 3339 (default now)")

	cmd.RunE = func(c *cobra.Command, args []string) error {
		end, err := parseDay(to, time.Now(), true)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		start, err := parseDay(from, end.AddDate(0, 0, -30), false)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		return run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			report, err := env.sla.ComplianceRate(ctx, entity, start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		})(c, args)
	}
	return cmd
}

func newNearingCmd(run runner) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "nearing-breach",
		Short: "List active metrics due within a window",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&window, "window", 0, "look-ahead window (default the configured warning window)")
	cmd.RunE = run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
		entries, err := env.sla.TicketsNearingBreach(ctx, window)
		if err != nil {
			return err
		}
		return printJSON(cmd, entries)
	})
	return cmd
}

func newStatusCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status TICKET_ID",
		Short: "Show a ticket's pinned SLA",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			st, err := env.sla.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})(c, args)
	}
	return cmd
}

func newCatalogCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage SLA rules and calendars",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Write the SLA_CATALOG_FILE rules and calendars to Postgres",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, env *cliEnv) error {
			if env.importCatalog == nil {
				return fmt.Errorf("catalog import needs POSTGRES_DSN and SLA_CATALOG_FILE")
			}
			res, err := env.importCatalog(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}),
	})
	return cmd
}

func parseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --attr %q, want key=value", pair)
		}
		out[k] = v
	}
	return out, nil
}

// parseDay reads a period bound. A date-only --to covers that whole day.
func parseDay(v string, fallback time.Time, end bool) (time.Time, error) {
	if v == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	day, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
