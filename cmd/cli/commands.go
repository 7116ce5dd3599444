package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/analytics"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/ingest"
	"github.com/spf13/cobra"
)

func (c *cli) ingestCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Classify and store every row of a statement CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if source == "" {
				source = c.app.Config.Ingest.DefaultSource
			}

			svc, err := c.app.Ingest(ctx)
			if err != nil {
				return err
			}

			c.log.Info().Str("file", args[0]).Str("source", source).Msg("Starting ingestion")
			res, err := svc.IngestFile(ctx, args[0], source, func(r ingest.Result) {
				if r.Processed%25 == 0 || r.Processed == r.Total {
					c.log.Info().Int("processed", r.Processed).Int("total", r.Total).Msg("Progress")
				}
			})
			if err != nil {
				return err
			}

			renderTable(cmd.OutOrStdout(),
				[]string{"Rows", "New", "Duplicates", "Skipped", "Failed"},
				[][]string{{itoa(res.Total), itoa(res.Successful), itoa(res.Duplicates), itoa(res.Skipped), itoa(res.Failed)}})
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source tag recorded on every row (defaults to ingest.default_source)")
	return cmd
}

func (c *cli) subscriptionsCmd() *cobra.Command {
	var likely bool
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List merchants whose payments recur",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := c.candidates(cmd, likely)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(candidates))
			for _, s := range candidates {
				rows = append(rows, []string{
					s.Merchant,
					string(s.Frequency),
					itoa(s.Count),
					itoa(s.Day),
					s.AvgAmount.StringFixed(2),
					s.LastDate.String(),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"Merchant", "Frequency", "Payments", "Day", "Average", "Last paid"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&likely, "likely", false, "only show likely subscriptions")
	return cmd
}

func (c *cli) candidates(cmd *cobra.Command, likely bool) ([]analytics.Candidate, error) {
	txs, err := c.app.Store.ListExpenses(cmd.Context())
	if err != nil {
		return nil, err
	}
	candidates := analytics.DetectRecurring(txs)
	if likely {
		candidates = analytics.FilterLikely(candidates)
	}
	return candidates, nil
}

func (c *cli) timelineCmd() *cobra.Command {
	var (
		startFlag, endFlag, granularity string
		byCategory                      bool
	)
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Summarize spending per period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			g, err := analytics.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			start, end, err := parseRange(startFlag, endFlag, time.Now())
			if err != nil {
				return err
			}

			txs, err := c.app.Store.ListByDateRange(ctx, start, end)
			if err != nil {
				return err
			}

			if byCategory {
				links, err := c.app.Store.AllMerchantCategories(ctx)
				if err != nil {
					return err
				}
				periods := analytics.BuildCategoryTimeline(txs, links, g)
				var rows [][]string
				for _, key := range analytics.SortedKeys(periods) {
					p := periods[key]
					for _, name := range analytics.SortedKeys(p.Categories) {
						ct := p.Categories[name]
						rows = append(rows, []string{key, swatch(ct.Color) + " " + name, ct.Total.StringFixed(2), itoa(ct.Count)})
					}
				}
				renderTable(cmd.OutOrStdout(), []string{"Period", "Category", "Total", "Transactions"}, rows)
				return nil
			}

			periods := analytics.BuildTimeline(txs, g)
			rows := make([][]string, 0, len(periods))
			for _, key := range analytics.SortedKeys(periods) {
				p := periods[key]
				rows = append(rows, []string{
					key,
					p.Recurring.Total.StringFixed(2),
					p.OneTime.Total.StringFixed(2),
					p.Total.StringFixed(2),
					itoa(len(p.Recurring.Transactions) + len(p.OneTime.Transactions)),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"Period", "Recurring", "One-time", "Total", "Transactions"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&startFlag, "start", "", "first date, YYYY-MM-DD (default one year before --end)")
	cmd.Flags().StringVar(&endFlag, "end", "", "last date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&granularity, "granularity", "month", "period width: year, month, day or hour")
	cmd.Flags().BoolVar(&byCategory, "by-category", false, "break each period down by merchant category")
	return cmd
}

// parseRange resolves the timeline window. Missing bounds default to the
// year ending today.
func parseRange(startFlag, endFlag string, now time.Time) (civil.Date, civil.Date, error) {
	end := civil.DateOf(now)
	if endFlag != "" {
		d, err := civil.ParseDate(endFlag)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("invalid --end %q, expected YYYY-MM-DD", endFlag)
		}
		end = d
	}
	start := civil.DateOf(end.In(time.UTC).AddDate(-1, 0, 0))
	if startFlag != "" {
		d, err := civil.ParseDate(startFlag)
		if err != nil {
			return civil.Date{}, civil.Date{}, fmt.Errorf("invalid --start %q, expected YYYY-MM-DD", startFlag)
		}
		start = d
	}
	if end.Before(start) {
		return civil.Date{}, civil.Date{}, errors.New("--end is before --start")
	}
	return start, end, nil
}

func (c *cli) sqlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql <query> [args...]",
		Short: "Run a parameterized query against the store",
		Long: `Run a query against the store and print the result as a table.
Values are bound to ? placeholders from the remaining arguments, never
interpolated into the query text.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]interface{}, 0, len(args)-1)
			for _, a := range args[1:] {
				params = append(params, a)
			}

			table, err := c.app.Store.Query(cmd.Context(), args[0], params...)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(table.Rows))
			for _, r := range table.Rows {
				cells := make([]string, len(r))
				for i, v := range r {
					cells[i] = formatCell(v)
				}
				rows = append(rows, cells)
			}
			renderTable(cmd.OutOrStdout(), table.Columns, rows)
			return nil
		},
	}
}

func (c *cli) categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage categories and merchant links",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List categories with their merchant counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := c.app.Store.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cats))
			for _, cat := range cats {
				rows = append(rows, []string{
					strconv.FormatInt(cat.ID, 10),
					swatch(cat.Color) + " " + cat.Name,
					cat.Icon,
					itoa(cat.MerchantCount),
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Icon", "Merchants"}, rows)
			return nil
		},
	}

	var color, icon string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := &domain.Category{Name: args[0], Color: color, Icon: icon}
			cat.Normalize()
			if err := cat.Validate(); err != nil {
				return err
			}
			if err := c.app.Store.CreateCategory(cmd.Context(), cat); err != nil {
				if errors.Is(err, sqlite.ErrDuplicate) {
					return fmt.Errorf("category %q already exists", cat.Name)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created category %d %s %s\n", cat.ID, swatch(cat.Color), cat.Name)
			return nil
		},
	}
	add.Flags().StringVar(&color, "color", "", "hex color, e.g. #1a2b3c")
	add.Flags().StringVar(&icon, "icon", "", "icon shown next to the name")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a category and its merchant links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.app.Store.DeleteCategory(cmd.Context(), id); err != nil {
				return notFound(err, "category %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted category %d\n", id)
			return nil
		},
	}

	link := &cobra.Command{
		Use:   "link <merchant> <category-id>",
		Short: "Apply a category to every transaction of a merchant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant, id, err := merchantAndID(args)
			if err != nil {
				return err
			}
			created, err := c.app.Store.AddMerchantCategory(cmd.Context(), merchant, id)
			if err != nil {
				return notFound(err, "category %d not found", id)
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already linked to category %d\n", merchant, id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked %s to category %d\n", merchant, id)
			return nil
		},
	}

	unlink := &cobra.Command{
		Use:   "unlink <merchant> <category-id>",
		Short: "Remove a merchant's category link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			merchant, id, err := merchantAndID(args)
			if err != nil {
				return err
			}
			if err := c.app.Store.RemoveMerchantCategory(cmd.Context(), merchant, id); err != nil {
				return notFound(err, "%s is not linked to category %d", merchant, id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlinked %s from category %d\n", merchant, id)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove, link, unlink)
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy transactions to external systems",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "bigquery",
		Short: "Append transactions not yet exported to the BigQuery table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := c.app.Exporter(cmd.Context())
			if err != nil {
				return err
			}
			res, err := exporter.Export(cmd.Context())
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"Scanned", "Exported", "Already exported"},
				[][]string{{itoa(res.Scanned), itoa(res.Exported), itoa(res.Existing)}})
			return nil
		},
	})
	return cmd
}

func (c *cli) syncCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror derived data into external systems",
	}
	notion := &cobra.Command{
		Use:   "notion",
		Short: "Mirror likely subscriptions into the Notion database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			syncer, err := c.app.Syncer(dryRun)
			if err != nil {
				return err
			}
			candidates, err := c.candidates(cmd, true)
			if err != nil {
				return err
			}
			links, err := c.app.Store.AllMerchantCategories(ctx)
			if err != nil {
				return err
			}

			res, err := syncer.SyncSubscriptions(ctx, candidates, links)
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"Created", "Updated", "Archived", "Failed"},
				[][]string{{itoa(res.Created), itoa(res.Updated), itoa(res.Archived), itoa(res.Failed)}})
			if res.Failed > 0 {
				return fmt.Errorf("%d Notion pages failed to sync", res.Failed)
			}
			return nil
		},
	}
	notion.Flags().BoolVar(&dryRun, "dry-run", false, "log what would change without writing to Notion")
	cmd.AddCommand(notion)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid category id %q", s)
	}
	return id, nil
}

func merchantAndID(args []string) (string, int64, error) {
	merchant := strings.TrimSpace(args[0])
	if merchant == "" {
		return "", 0, errors.New("merchant name is required")
	}
	id, err := parseID(args[1])
	if err != nil {
		return "", 0, err
	}
	return merchant, id, nil
}

// notFound replaces the store's not-found sentinel with a readable message.
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return fmt.Errorf(format, args...)
	}
	return err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
