package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quanthub/sgx-downloader/internal/config"
	"github.com/quanthub/sgx-downloader/internal/download"
	httpx "github.com/quanthub/sgx-downloader/internal/http"
	"github.com/quanthub/sgx-downloader/internal/logging"
	"github.com/quanthub/sgx-downloader/internal/model"
	"github.com/quanthub/sgx-downloader/internal/sgx"
	"github.com/quanthub/sgx-downloader/internal/store"
)

func main() {
	// Command line flags
	var (
		configFlag   = flag.String("config", "", "Path to config file")
		outputFlag   = flag.String("output", "", "Output directory (overrides config)")
		filesFlag    = flag.String("files", "", "Comma-separated files to download per day (overrides config)")
		dbFlag       = flag.String("db", "", "Path to the mapping database (overrides config)")
		workersFlag  = flag.Int("workers", 0, "Concurrent download workers (overrides config)")
		logFileFlag  = flag.String("logfile", "", "Log file path (overrides config)")
		logLevelFlag = flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
		verboseFlag  = flag.Bool("verbose", false, "Show verbose output")

		dayFlag    = flag.String("day", "", "Download data for a specific day (YYYY-MM-DD)")
		startFlag  = flag.String("start", "", "Start date of a range download (YYYY-MM-DD)")
		endFlag    = flag.String("end", "", "End date of a range download (YYYY-MM-DD)")
		lastFlag   = flag.Int("last", 0, "Download data for the last N trading days")
		latestFlag = flag.Bool("latest", false, "Download only the newest published day")
		retryFlag  = flag.Bool("retry", false, "Re-attempt every download recorded in the error ledger")

		latestIDFlag   = flag.Int64("latest-id", 0, "Known newest resource id (skips scanning)")
		latestDateFlag = flag.String("latest-date", "", "Trading day of -latest-id (YYYY-MM-DD)")
	)

	flag.Parse()

	hasMode := *dayFlag != "" || *startFlag != "" || *endFlag != "" || *lastFlag > 0 || *latestFlag || *retryFlag
	if !hasMode {
		fmt.Println("sgx-dl - Download SGX derivatives historical data")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  sgx-dl -day 2023-08-21 [options]")
		fmt.Println("  sgx-dl -start 2023-08-01 -end 2023-08-21 [options]")
		fmt.Println("  sgx-dl -last 5 [options]")
		fmt.Println("  sgx-dl -latest [options]")
		fmt.Println("  sgx-dl -retry [options]")
		fmt.Println()
		fmt.Println("For interactive mode, use: sgx-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	if (*startFlag == "") != (*endFlag == "") {
		fmt.Fprintln(os.Stderr, "Error: -start and -end must be given together")
		os.Exit(1)
	}

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// Apply flags
	if *outputFlag != "" {
		settings.OutputDir = *outputFlag
	}
	if *filesFlag != "" {
		settings.DownloadFiles = splitFiles(*filesFlag)
	}
	if *dbFlag != "" {
		settings.DatabasePath = *dbFlag
	}
	if *workersFlag > 0 {
		settings.MaxConcurrentDownloads = *workersFlag
	}
	if *logFileFlag != "" {
		settings.LogFile = *logFileFlag
	}
	if *logLevelFlag != "" {
		settings.LogLevel = *logLevelFlag
	}
	if *verboseFlag && settings.LogLevel == "info" {
		settings.LogLevel = "debug"
	}

	logger, err := logging.New(settings.LogLevel, settings.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Handle interrupts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, cancelling...")
		cancel()
	}()

	// Open durable state
	db, err := store.Open(settings.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening mapping database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	mappings := db.Mappings()
	ledger := db.Ledger()

	// One client for probes and downloads so the source sees one rate.
	client := httpx.NewClient(time.Duration(settings.RequestTimeoutSeconds)*time.Second, settings.RequestsPerSecond)
	urls := sgx.NewURLs(settings.URLPattern)
	probe := sgx.NewProbe(client, urls, settings.ProbeFileName)

	var provider sgx.LatestInfoProvider
	if *latestIDFlag > 0 {
		date, err := model.ParseDate(*latestDateFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -latest-date is required with -latest-id: %v\n", err)
			os.Exit(1)
		}
		provider = sgx.StaticProvider{Info: sgx.LatestInfo{ID: *latestIDFlag, Date: date}}
	} else {
		provider = &sgx.ScanProvider{
			Mappings:   mappings,
			Probe:      probe,
			MaxAhead:   settings.MaxScanAhead,
			MissWindow: settings.ScanMissWindow,
			Logger:     logger,
		}
	}

	updater := sgx.NewUpdater(mappings, provider, probe, settings.ProbeMaxRetries, logger)
	resolver := sgx.NewResolver(mappings, updater, logger)

	// Create manager with progress callback
	manager := download.NewManager(settings, client, ledger, logger, func(event download.ProgressEvent) {
		if event.Level == download.LevelVerbose && !*verboseFlag {
			return
		}

		prefix := ""
		switch event.Level {
		case download.LevelError:
			prefix = "❌ "
		case download.LevelWarning:
			prefix = "⚠️  "
		case download.LevelSuccess:
			prefix = "✅ "
		case download.LevelInfo:
			prefix = "ℹ️  "
		default:
			prefix = "   "
		}

		fmt.Println(prefix + event.Message)
	})

	fmt.Println("📈 SGX Derivatives Downloader")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	var records []model.Record

	switch {
	case *retryFlag:
		if err := manager.Retry(ctx); err != nil {
			exitErr(ctx, err)
		}

	case *latestFlag:
		rec, err := resolver.ResolveLatest(ctx)
		if err != nil {
			exitErr(ctx, err)
		}
		records = []model.Record{rec}

	case *dayFlag != "":
		records, err = resolver.ResolveDate(ctx, *dayFlag)
		if err != nil {
			exitErr(ctx, err)
		}

	case *startFlag != "":
		records, err = resolver.ResolveRange(ctx, *startFlag, *endFlag)
		if err != nil {
			exitErr(ctx, err)
		}

	case *lastFlag > 0:
		records, err = resolver.ResolveLastN(ctx, *lastFlag)
		if err != nil {
			exitErr(ctx, err)
		}
	}

	if !*retryFlag {
		if len(records) == 0 {
			fmt.Println("Nothing to download (weekend, holiday, or no data yet).")
			return
		}

		fmt.Printf("📥 Downloading %d trading day(s)...\n\n", len(records))

		jobs := make([]download.Job, 0, len(records))
		for _, rec := range records {
			jobs = append(jobs, download.Job{ID: rec.ID, Date: rec.Date, Files: settings.DownloadFiles})
		}

		if err := manager.Run(ctx, jobs); err != nil {
			exitErr(ctx, err)
		}
	}

	received, done, failed, total := manager.GetProgress()
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✨ Complete! Downloaded %d/%d files (%.2f MB)\n", done, total, float64(received)/1024/1024)
	if failed > 0 {
		fmt.Printf("   %d file(s) failed, run with -retry to re-attempt them.\n", failed)
	}
}

func splitFiles(s string) []string {
	var files []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func exitErr(ctx context.Context, err error) {
	if ctx.Err() != nil {
		fmt.Println("\nCancelled.")
		os.Exit(130)
	}
	if errors.Is(err, sgx.ErrInvalidDate) || errors.Is(err, sgx.ErrInvalidRange) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
