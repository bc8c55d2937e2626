// Package main is the shashin CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/shashin/config.yaml"
	defaultServerURL  = "http://localhost:23107"
	clientTimeout     = 2 * time.Minute
)

// loadConfig loads config from path. When path is the default and a
// config.yaml exists in the working directory, that file is used instead.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "index":
		runIndex(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "get-index":
		runGetIndex(args)
	case "delete-index":
		runDeleteIndex(args)
	case "settings":
		runSettings(args)
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// connect returns a client when a server answers at url. An empty url
// always means direct access.
func connect(url string) *cli.Client {
	if url == "" {
		return nil
	}
	client := cli.NewClient(url, clientTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil
	}
	return client
}

// openDirect loads config and builds every component for commands that
// run without a server.
func openDirect(configPath string) (*Components, *config.Config, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return components, cfg, logger
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	indexOnStart := fs.Bool("index", false, "run the index pipeline once at startup")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	pipeline := components.Pipeline
	serverComponents := components.ServerComponents()

	if cfg.Watch.Enabled {
		w := watcher.NewWatcher(
			cfg.Scan.IncludeDirectories,
			cfg.Scan.Extensions,
			func(paths []string) {
				logger.Info("watched files changed", zap.Int("paths", len(paths)))
				if _, err := pipeline.Run(ctx, indexer.RunOptions{}); err != nil {
					if errors.Is(err, indexer.ErrAlreadyRunning) {
						logger.Debug("index already running, change picked up by the next run")
						return
					}
					logger.Warn("watch-triggered index failed", zap.Error(err))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
			watcher.WithExclude(cfg.Scan.ExcludeDirectories),
		)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		serverComponents.Watch = w
	}

	srv := server.NewServer(serverComponents, cfg, resolvedConfigPath, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	if *indexOnStart {
		go func() {
			report, err := pipeline.Run(ctx, indexer.RunOptions{})
			if err != nil {
				logger.Warn("startup index failed", zap.Error(err))
				return
			}
			logger.Info("startup index finished",
				zap.String("run_id", report.RunID),
				zap.Int("embedded", report.Embedded),
				zap.Int("purged", report.Purged))
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = always index directly)")
	deepScan := fs.Bool("deep-scan", false, "fingerprint every image to catch in-place edits")
	batchSize := fs.Int("batch-size", 0, "images per embedding batch (0 = config value)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	var deep *bool
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "deep-scan" {
			deep = deepScan
		}
	})

	if client := connect(*serverURL); client != nil {
		if err := client.StartIndex(context.Background(), deep, *batchSize); err != nil {
			fatalf("Index failed: %v", err)
		}
		fmt.Printf("Indexing started on %s; run \"shashin status\" to follow progress\n", *serverURL)
		return
	}

	components, _, logger := openDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := components.Pipeline.Run(ctx, indexer.RunOptions{DeepScan: deep, BatchSize: *batchSize})
	if err != nil {
		fatalf("Index failed: %v", err)
	}
	if err := cli.WriteReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	var status *cli.Status
	if client := connect(*serverURL); client != nil {
		var err error
		if status, err = client.Status(context.Background()); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		components, cfg, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		var err error
		if status, err = components.Status(context.Background(), cfg); err != nil {
			fatalf("Status failed: %v", err)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runGetIndex(args []string) {
	fs := flag.NewFlagSet("get-index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	ctx := context.Background()
	if client := connect(*serverURL); client != nil {
		entries, err := client.ListIndex(ctx)
		if err != nil {
			fatalf("get-index failed: %v", err)
		}
		if err := cli.WriteIndexEntries(os.Stdout, entries, format); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}
	components, _, logger := openDirect(*configPath)
	defer logger.Sync()
	defer components.Close()
	entries, err := components.IndexEntries(ctx)
	if err != nil {
		fatalf("get-index failed: %v", err)
	}
	if err := cli.WriteIndexEntries(os.Stdout, entries, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDeleteIndex(args []string) {
	fs := flag.NewFlagSet("delete-index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	_ = fs.Parse(args)

	ctx := context.Background()
	if client := connect(*serverURL); client != nil {
		if err := client.DeleteIndex(ctx); err != nil {
			fatalf("delete-index failed: %v", err)
		}
	} else {
		components, _, logger := openDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		if err := components.ClearIndex(ctx); err != nil {
			fatalf("delete-index failed: %v", err)
		}
	}
	fmt.Println("Index deleted")
}

func printUsage() {
	fmt.Println(strings.TrimSpace(`
shashin - Local image search by description, by example, and by text in the picture

Usage:
  shashin server [flags]                          Start the HTTP server
  shashin index [flags]                           Scan include directories and update the index
  shashin search <text|image|ocr|keyword> [flags] <query>
                                                  Search indexed images
  shashin status [flags]                          Show counts, last run and configuration
  shashin get-index [flags]                       List every catalogued image and its index state
  shashin delete-index [flags]                    Remove the catalog and all indices
  shashin settings <show|set|add-include|remove-include|add-exclude|remove-exclude>
                                                  Show or edit the configuration
  shashin version                                 Show version
  shashin help                                    Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shashin/config.yaml, or ./config.yaml when present)
  --server string    Server URL (default: http://localhost:23107). When no server answers, commands
                     open the index directly. Use --server "" to always open it directly.
  --output string    Output format: text, compact, or json (default: text)

Server Flags:
  --debug            Enable debug logging
  --index            Run the index pipeline once at startup

Index Flags:
  --deep-scan        Fingerprint every image so in-place edits are re-embedded
  --batch-size int   Images per embedding batch (default from config)

Search Flags:
  --top-k int           Number of results (default from config)
  --threshold float     Minimum similarity, exclusive (default from config)
  --include-self        image search: keep the query image in the results
  --limit int           keyword search: number of hits (default: 10)
  --fuzzy               keyword search: tolerate OCR misreads

Examples:
  shashin server --index
  shashin index --deep-scan
  shashin search text "a dog on the beach"
  shashin search image ~/Pictures/beach.jpg --top-k 10
  shashin search image https://example.com/cat.png
  shashin search ocr "parking permit"
  shashin search keyword --fuzzy invoice
  shashin settings add-include ~/Pictures
  shashin settings set index.batch_size 16
  shashin status --output json`))
}
