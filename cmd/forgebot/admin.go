package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/Strob0t/ForgeBot/internal/adapter/postgres"
	"github.com/Strob0t/ForgeBot/internal/config"
)

// runAdmin dispatches admin subcommands (migrate, build-log, issues).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "build-log":
		return runAdminBuildLog(args[1:])
	case "issues":
		return runAdminIssues(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: forgebot admin <command> [options]

Commands:
  migrate      Apply pending database migrations
  build-log    Print the stage log of one build
  issues       Print the most frequent issue codes of recent builds
  help         Show this help message

Examples:
  forgebot admin migrate
  forgebot admin build-log --id 0b7c...
  forgebot admin issues --runs 50 --limit 10
`)
}

// adminFlags registers the flags every admin command shares.
func adminFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	return fs, cfgPath
}

func loadAdminConfig(path string) (*config.Config, error) {
	cfg, _, err := config.LoadWithCLI(config.CLIFlags{ConfigPath: &path})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("admin commands need a database: set postgres.dsn or DATABASE_URL")
	}
	return cfg, nil
}

func runAdminMigrate(args []string) error {
	fs, cfgPath := adminFlags("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig(*cfgPath)
	if err != nil {
		return err
	}

	v, err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("schema at version %d\n", v)
	return nil
}

func runAdminBuildLog(args []string) error {
	fs, cfgPath := adminFlags("build-log")
	id := fs.String("id", "", "build ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	cfg, err := loadAdminConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	records, err := postgres.NewBuildLog(pool).List(ctx, *id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tSTAGE\tATTEMPT\tSCORE\tISSUES\tDETAIL")
	for _, r := range records {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprint(*r.Score)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", r.Seq, r.Stage, r.Attempt, score, strings.Join(r.IssueCodes, ","), r.Detail)
	}
	return w.Flush()
}

func runAdminIssues(args []string) error {
	fs, cfgPath := adminFlags("issues")
	runs := fs.Int("runs", 0, "recent builds to consider (default build.summary_runs)")
	limit := fs.Int("limit", 0, "issue codes to print (default build.summary_limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *runs <= 0 {
		*runs = cfg.Build.SummaryRuns
	}
	if *limit <= 0 {
		*limit = cfg.Build.SummaryLimit
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	counts, err := postgres.NewBuildLog(pool).SummarizeIssueCodes(ctx, *runs, *limit)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("No issues recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tCOUNT")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Code, c.Count)
	}
	return w.Flush()
}
