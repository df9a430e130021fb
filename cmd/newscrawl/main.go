package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"

	"github.com/go-scripts/newscrawl/internal/browser"
	"github.com/go-scripts/newscrawl/internal/config"
	"github.com/go-scripts/newscrawl/internal/crawler"
	"github.com/go-scripts/newscrawl/internal/history"
	"github.com/go-scripts/newscrawl/internal/retry"
	"github.com/go-scripts/newscrawl/internal/types"
	"github.com/go-scripts/newscrawl/internal/writer"
)

// CLI flags structure
type CLI struct {
	Config        string   `help:"Path to a YAML configuration file" type:"existingfile" short:"c"`
	Site          []string `help:"Crawl only the named targets (repeatable)" short:"s"`
	OutputDir     string   `help:"Directory for the CSV files" short:"o"`
	Debug         bool     `help:"Enable debug logging"`
	Headful       bool     `help:"Show the browser window"`
	MaxIterations int      `help:"Scroll ceiling for every selected target"`
	HistoryDB     string   `help:"SQLite file remembering written articles" name:"history-db"`
	List          bool     `help:"List configured targets and exit"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("newscrawl"),
		kong.Description("Collects news articles from infinite-scroll archives into CSV files."),
		kong.UsageOnError(),
	)
	os.Exit(run(cli))
}

func run(cli CLI) int {
	logger := newLogger(os.Stderr, cli.Debug)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Error("loading configuration", "err", err)
		return 1
	}
	applyFlags(cfg, cli)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	targets, err := cfg.Select(cli.Site)
	if err != nil {
		logger.Error("selecting targets", "err", err, "available", cfg.Names())
		return 1
	}

	if cli.List {
		listTargets(os.Stdout, targets, cfg.OutputDir)
		return 0
	}

	var ledger *history.Ledger
	if cfg.HistoryDB != "" {
		ledger, err = history.Open(cfg.HistoryDB)
		if err != nil {
			logger.Error("opening history", "err", err)
			return 1
		}
		defer ledger.Close()
	}

	opts := crawler.Options{
		OutputDir:      cfg.OutputDir,
		RequestTimeout: cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
		Retry: retry.Config{
			MaxRetries:      uint64(cfg.MaxRetries),
			InitialInterval: retry.DefaultInitialInterval,
			MaxInterval:     retry.DefaultMaxInterval,
		},
	}
	if isatty.IsTerminal(os.Stderr.Fd()) && !cli.Debug {
		opts.Terminal = os.Stderr
	}

	open := crawler.ChromeOpener(browser.Options{
		Headless:     cfg.Headless,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
		ExecPath:     cfg.ExecPath,
		UserAgent:    cfg.UserAgent,
	})

	// the first interrupt only stops scrolling, a second one kills the process
	ctx := context.Background()
	discoverCtx, cancelDiscovery := context.WithCancel(ctx)
	defer cancelDiscovery()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			signal.Stop(sigs)
			logger.Warn("interrupt received, finishing with the articles found so far; press Ctrl+C again to abort")
			cancelDiscovery()
		case <-discoverCtx.Done():
		}
	}()

	runner := crawler.NewRunner(open, opts, ledger, logger)
	reports, err := runner.Run(ctx, discoverCtx, targets)

	for _, r := range reports {
		logger.Info("summary",
			"target", r.Target,
			"outcome", r.Outcome,
			"links", r.Links,
			"written", r.Stats.Written,
			"skipped", r.Stats.Skipped,
			"failed", r.FetchFailed,
		)
	}
	if err != nil {
		logger.Error("crawl failed", "err", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, debug bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "newscrawl",
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// applyFlags lays command line values over the loaded configuration
func applyFlags(cfg *config.Config, cli CLI) {
	if cli.OutputDir != "" {
		cfg.OutputDir = cli.OutputDir
	}
	if cli.Headful {
		cfg.Headless = false
	}
	if cli.HistoryDB != "" {
		cfg.HistoryDB = cli.HistoryDB
	}
	if cli.MaxIterations > 0 {
		for i := range cfg.Targets {
			cfg.Targets[i].MaxIterations = cli.MaxIterations
		}
	}
}

func listTargets(w io.Writer, targets []types.CrawlTarget, outputDir string) {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "ENTRY", "MARKER", "FETCH", "OUTPUT").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	for _, target := range targets {
		fetch := string(target.FetchMode)
		if target.FetchMode == types.FetchSerial && target.FetchDelay > 0 {
			fetch += " every " + target.FetchDelay.String()
		} else if target.FetchConcurrency > 0 {
			fetch += " x" + strconv.Itoa(target.FetchConcurrency)
		}
		output := target.OutputFile
		if output == "" {
			output = writer.FileName(target.Name)
		}
		output = filepath.Join(outputDir, output)
		t.Row(target.Name, target.EntryURL, target.Marker, fetch, output)
	}

	fmt.Fprintln(w, t.Render())
}
