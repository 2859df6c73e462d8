package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"log/slog"

	"github.com/joho/godotenv"

	"consular/internal/amqp"
	"consular/internal/analytics"
	"consular/internal/config"
	"consular/internal/core"
	"consular/internal/export"
	"consular/internal/grouping"
	"consular/internal/services"
	"consular/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(cfg)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: consular <command> [flags]

Commands:
  load      load one or more report files
  validate  check files without loading them
  stats     summary of the stored data
  list      print stored records, optionally filtered
  history   list loaded files
  delete    remove a loaded file and its records
  group     analyze, preview or apply service grouping
  compare   put two or more years side by side
  top       rank services by revenue or transactions
  weekday   mean daily volumes per weekday
  export    write the stored records to an Excel workbook`)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type app struct {
	cfg      *config.Config
	repo     *storage.SQLiteRepository
	amqp     *amqp.Client
	ingest   *services.IngestService
	grouper  *grouping.Manager
	analyzer *services.AnalyticsService
}

func newApp(cfg *config.Config) (*app, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("connect AMQP: %w", err)
		}
	}

	grouper := grouping.NewManager(repo, nil)
	return &app{
		cfg:      cfg,
		repo:     repo,
		amqp:     amqpClient,
		ingest:   services.NewIngestService(repo, amqpClient),
		grouper:  grouper,
		analyzer: services.NewAnalyticsService(repo, grouper.Ruleset(), cfg.CacheSize, cfg.CacheTTL),
	}, nil
}

func (a *app) Close() {
	if a.amqp != nil {
		a.amqp.Close()
	}
	a.repo.Close()
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "load":
		return a.cmdLoad(ctx, args)
	case "validate":
		return a.cmdValidate(ctx, args)
	case "stats":
		return a.cmdStats(ctx)
	case "list":
		return a.cmdList(ctx, args)
	case "history":
		return a.cmdHistory(ctx)
	case "delete":
		return a.cmdDelete(ctx, args)
	case "group":
		return a.cmdGroup(ctx, args)
	case "compare":
		return a.cmdCompare(ctx, args)
	case "top":
		return a.cmdTop(ctx, args)
	case "weekday":
		return a.cmdWeekday(ctx)
	case "export":
		return a.cmdExport(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	overwrite := fs.Bool("overwrite", false, "replace files that were loaded before")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("load: at least one file required")
	}

	results, err := a.ingest.LoadFiles(ctx, fs.Args(), services.LoadOptions{Overwrite: *overwrite})
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Printf("%s: inserted=%d duplicates=%d errors=%d dropped=%d\n",
			res.Filename, res.Result.Inserted, res.Result.Duplicates, res.Result.Errors, res.DroppedRows)
	}
	return nil
}

func (a *app) cmdValidate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("validate: at least one file required")
	}
	issues, err := a.ingest.ValidateFiles(ctx, args)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Printf("%d file(s) ok\n", len(args))
		return nil
	}
	for _, issue := range issues {
		fmt.Printf("%s: %v\n", issue.Path, issue.Err)
	}
	return fmt.Errorf("%d of %d file(s) failed validation", len(issues), len(args))
}

func (a *app) cmdStats(ctx context.Context) error {
	stats, err := a.repo.SummaryStats(ctx)
	if err != nil {
		return err
	}
	rng, err := a.repo.DateRange(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("records:    %d\n", stats.TotalRecords)
	fmt.Printf("revenue:    %.2f USD\n", stats.TotalRevenue)
	fmt.Printf("trámites:   %d\n", stats.TotalTransactions)
	fmt.Printf("canceled:   %d\n", stats.TotalCanceled)
	fmt.Printf("services:   %d\n", stats.DistinctServices)
	fmt.Printf("categories: %d\n", stats.DistinctCategories)
	if rng.TotalRecords > 0 {
		fmt.Printf("dates:      %s .. %s\n", rng.Min.ISO(), rng.Max.ISO())
	}
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	from := fs.String("from", "", "start date (YYYY-MM-DD)")
	to := fs.String("to", "", "end date (YYYY-MM-DD)")
	service := fs.String("service", "", "exact service label")
	category := fs.String("category", "", "exact category label")
	fs.Parse(args)

	var filter storage.Filter
	var err error
	if *from != "" {
		if filter.Start, err = core.ParseISO(*from); err != nil {
			return fmt.Errorf("list: bad -from date: %w", err)
		}
	}
	if *to != "" {
		if filter.End, err = core.ParseISO(*to); err != nil {
			return fmt.Errorf("list: bad -to date: %w", err)
		}
	}
	filter.Service = *service
	filter.Category = *category

	records, err := a.repo.Query(ctx, filter)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s  %-45s %-12s %8.2f USD  %4d trámites\n",
			r.IssuanceDate.ISO(), r.Service, r.Category, r.Revenue, r.Transactions)
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}

func (a *app) cmdHistory(ctx context.Context) error {
	batches, err := a.repo.BatchHistory(ctx)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("no files loaded")
		return nil
	}
	for _, b := range batches {
		fmt.Printf("%s  %-30s inserted=%d duplicates=%d status=%s\n",
			b.LoadedAt.Format("2006-01-02 15:04"), b.Filename, b.Inserted, b.Duplicates, b.Status)
	}
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete: exactly one filename required")
	}
	removed, err := a.ingest.DeleteFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: removed %d record(s)\n", args[0], removed)
	return nil
}

func (a *app) cmdGroup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("group", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "permanently rewrite raw labels (irreversible)")
	fs.Parse(args)
	action := "analyze"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	switch action {
	case "analyze":
		analyses, err := a.grouper.Analyze(ctx)
		if err != nil {
			return err
		}
		for _, ga := range analyses {
			fmt.Printf("%s -> %q: %d label(s), %d record(s), %.2f USD\n",
				ga.RuleName, ga.Canonical, ga.LabelCount, ga.Records, ga.Revenue)
			for _, label := range ga.Labels {
				fmt.Printf("  %s\n", label)
			}
		}
		return nil
	case "apply":
		res, err := a.grouper.Apply(ctx, *confirm)
		if err != nil {
			return err
		}
		if !res.Applied {
			fmt.Printf("would rewrite %d record(s); rerun with -confirm to apply\n", res.Pending.TotalRecords)
			for _, change := range res.Pending.Changes {
				fmt.Printf("  %s: %v -> %q\n", change.RuleName, change.Labels, change.Canonical)
			}
			return nil
		}
		for _, ra := range res.Rules {
			if ra.Err != nil {
				fmt.Printf("%s: FAILED: %v\n", ra.RuleName, ra.Err)
				continue
			}
			fmt.Printf("%s: rewrote %d record(s) to %q\n", ra.RuleName, ra.Updated, ra.Canonical)
		}
		fmt.Printf("total rewritten: %d\n", res.TotalUpdated)
		return nil
	default:
		return fmt.Errorf("group: unknown action %q (use analyze or apply)", action)
	}
}

func (a *app) cmdCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	month := fs.Int("month", 0, "restrict to one month (1-12)")
	quarter := fs.Int("quarter", 0, "restrict to one quarter (1-4)")
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("compare: at least two years required")
	}

	years := make([]int, 0, fs.NArg())
	for _, arg := range fs.Args() {
		y, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("compare: bad year %q", arg)
		}
		years = append(years, y)
	}

	period := analytics.FullYear()
	switch {
	case *month != 0:
		if *month < 1 || *month > 12 {
			return fmt.Errorf("compare: month must be 1-12")
		}
		period = analytics.SingleMonth(*month)
	case *quarter != 0:
		if *quarter < 1 || *quarter > 4 {
			return fmt.Errorf("compare: quarter must be 1-4")
		}
		period = analytics.QuarterPeriod(*quarter)
	}

	cmp, err := a.analyzer.CompareYears(ctx, years, period)
	if err != nil {
		return err
	}
	fmt.Printf("period: %s\n", cmp.Period.Name)
	for _, ys := range cmp.Years {
		fmt.Printf("%d: revenue=%.2f trámites=%d days=%d services=%d rev/day=%.2f\n",
			ys.Year, ys.TotalRevenue, ys.TotalTransactions, ys.ActiveDays, ys.Services, ys.MeanRevenuePerDay)
	}
	return nil
}

func (a *app) cmdTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	byTx := fs.Bool("transactions", false, "rank by transaction count instead of revenue")
	n := fs.Int("n", 10, "number of services to show (0 for all)")
	fs.Parse(args)

	metric := analytics.MetricRevenue
	if *byTx {
		metric = analytics.MetricTransactions
	}
	top, err := a.analyzer.TopServices(ctx, metric, *n)
	if err != nil {
		return err
	}
	for i, s := range top {
		fmt.Printf("%2d. %-45s %12.2f USD  %6d trámites\n", i+1, s.Service, s.Revenue, s.Transactions)
	}
	return nil
}

func (a *app) cmdWeekday(ctx context.Context) error {
	p, err := a.analyzer.WeekdayProfile(ctx)
	if err != nil {
		return err
	}
	for _, wa := range p.Averages {
		fmt.Printf("%-10s %10.2f USD/day  %8.2f trámites/day  (%d day(s))\n",
			wa.Weekday, wa.Revenue, wa.Transactions, wa.Days)
	}
	if p.MaxRevenue != "" {
		fmt.Printf("best revenue day: %s, worst: %s\n", p.MaxRevenue, p.MinRevenue)
	}
	return nil
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "consular_export.xlsx", "output workbook path")
	fs.Parse(args)

	records, err := a.repo.AllRecords(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	defer f.Close()

	if err := export.WriteWorkbook(f, records); err != nil {
		return err
	}
	fmt.Printf("wrote %d record(s) to %s\n", len(records), *out)
	return nil
}
