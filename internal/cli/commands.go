package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"habitsync/internal/backend"
	"habitsync/internal/core"
	"habitsync/internal/log"
	"habitsync/internal/pipeline"
)

func newRunCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, aggregate and upsert the monthly summary",
		Long: `Run the whole job: fetch every record of the source database, tabulate
them, compute monthly averages and upsert one summary entry per month.
Running it twice over unchanged data leaves the summary unchanged.

When AMQP_URL is set a summary.updated message is published afterwards.`,
		Example: `  habitsync run
  habitsync run --dry-run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.setup(cmd, false)
			if err != nil {
				return err
			}
			ctx, stop := SignalContext(cmd.Context(), logger)
			defer stop()

			nc, err := NewNotionClient(cfg)
			if err != nil {
				return err
			}
			bcfg, err := backend.FromAppConfig(cfg, nc)
			if err != nil {
				return err
			}
			be, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).CreateBackend(ctx, bcfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := be.Close(); err != nil {
					logger.Warn("Failed to close summary backend", log.FieldError, err)
				}
			}()

			var pub pipeline.Publisher
			client, err := NewPublisher(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Close()
				pub = client
			}

			result, err := pipeline.New(nc, be.Backend, pub, pipelineConfig(cfg, logger)).Process(ctx, request(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if o.jsonOutput {
				return printMonthlyJSON(out, result.Monthly.Rows)
			}
			if err := printMonthly(out, result.Monthly.Habits, result.Monthly.Rows); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d month(s) from %d record(s) written to %s summary %s\n",
				len(result.Monthly.Rows), len(result.Daily.Rows), be.Type, result.SummaryID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "write to an in-memory summary and discard it")
	return cmd
}

func newDailyCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Print the date-ordered table of habit values",
		Long: `Fetch every record of the source database and print one line per record,
ordered by date. Habits a record does not carry are left blank. Nothing is
written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.setup(cmd, true)
			if err != nil {
				return err
			}
			ctx, stop := SignalContext(cmd.Context(), logger)
			defer stop()

			nc, err := NewNotionClient(cfg)
			if err != nil {
				return err
			}
			tbl, err := pipeline.New(nc, nil, nil, pipelineConfig(cfg, logger)).Daily(ctx, cfg.NotionSourceDatabaseID)
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return printDailyJSON(cmd.OutOrStdout(), tbl)
			}
			return printDaily(cmd.OutOrStdout(), tbl)
		},
	}
}

func newMonthlyCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "monthly",
		Short: "Print the monthly averages without writing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.setup(cmd, true)
			if err != nil {
				return err
			}
			ctx, stop := SignalContext(cmd.Context(), logger)
			defer stop()

			nc, err := NewNotionClient(cfg)
			if err != nil {
				return err
			}
			p := pipeline.New(nc, nil, nil, pipelineConfig(cfg, logger))
			tbl, err := p.Daily(ctx, cfg.NotionSourceDatabaseID)
			if err != nil {
				return err
			}
			monthly := p.Monthly(tbl)
			if o.jsonOutput {
				return printMonthlyJSON(cmd.OutOrStdout(), monthly.Rows)
			}
			return printMonthly(cmd.OutOrStdout(), monthly.Habits, monthly.Rows)
		},
	}
}

func newShowCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the months stored in the summary",
		Long: `List the entries of the summary resource of the selected backend, ordered
by month. Without --summary the resource is looked up under the parent and
created empty when it does not exist yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.setup(cmd, false)
			if err != nil {
				return err
			}
			ctx, stop := SignalContext(cmd.Context(), logger)
			defer stop()

			nc, err := NewNotionClient(cfg)
			if err != nil {
				return err
			}
			bcfg, err := backend.FromAppConfig(cfg, nc)
			if err != nil {
				return err
			}
			be, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Slog()).CreateBackend(ctx, bcfg)
			if err != nil {
				return err
			}
			defer be.Close()

			id := cfg.SummaryResource()
			if id == "" {
				if id, err = be.Backend.FindOrCreate(ctx, cfg.SummaryParent(), nil); err != nil {
					return err
				}
			}
			rows, err := be.Backend.ListMonths(ctx, id)
			if err != nil {
				return err
			}
			if o.jsonOutput {
				return printMonthlyJSON(cmd.OutOrStdout(), rows)
			}
			return printMonthly(cmd.OutOrStdout(), averagedHabits(rows), rows)
		},
	}
}

// averagedHabits returns the sorted habit names present in any row.
func averagedHabits(rows []core.MonthlyRow) []string {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for h := range r.Averages {
			seen[h] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for h := range seen {
		names = append(names, h)
	}
	sort.Strings(names)
	return names
}
