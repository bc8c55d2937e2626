package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
)

var searchKinds = []string{"text", "image", "ocr", "keyword"}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shashin search <%s> [flags] <query>\n\n", strings.Join(searchKinds, "|"))
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Kinds:
  text     describe the picture ("a red car in the snow")
  image    path, http(s) URL, or data: URI of an example image
  ocr      meaning of the text shown in the picture
  keyword  words shown in the picture; --fuzzy tolerates misreads

Examples:
  shashin search text a red car in the snow
  shashin search image --top-k 10 ~/Pictures/car.jpg
  shashin search keyword --fuzzy --limit 20 invoice
`)
}

// buildSearchQuery joins positional args so multi-word queries work with or
// without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags that appear after the query to the front so
// flag.Parse sees them; the flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func validSearchKind(kind string) bool {
	for _, k := range searchKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	topK := fs.Int("top-k", 0, "number of results (0 = config default)")
	threshold := fs.Float64("threshold", 0, "minimum similarity, exclusive (default from config)")
	includeSelf := fs.Bool("include-self", false, "image search: keep the query image in the results")
	limit := fs.Int("limit", 10, "keyword search: number of hits")
	fuzzy := fs.Bool("fuzzy", false, "keyword search: tolerate OCR misreads")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }

	if len(args) < 1 || !validSearchKind(args[0]) {
		printSearchUsage(fs)
		os.Exit(1)
	}
	kind := args[0]
	_ = fs.Parse(searchArgsReorder(args[1:]))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	if kind == "image" {
		query = absImageQuery(query)
	}

	req := &models.SearchRequest{Query: query, TopK: *topK, IncludeSelf: *includeSelf}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "threshold" {
			req.Threshold = threshold
		}
	})
	kq := &models.KeywordQuery{Query: query, Limit: *limit, Fuzzy: *fuzzy}

	ctx := context.Background()
	if client := connect(*serverURL); client != nil {
		if kind == "keyword" {
			resp, err := client.SearchKeyword(ctx, kq)
			if err != nil {
				fatalf("Search failed: %v", err)
			}
			writeKeyword(query, resp, format)
			return
		}
		result, err := client.Search(ctx, kind, req)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		writeResult(query, result, format)
		return
	}

	components, cfg, logger := openDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	if kind == "keyword" {
		resp, err := components.Engine.SearchOCRKeyword(ctx, *kq)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
		writeKeyword(query, resp, format)
		return
	}
	result, err := searchDirect(ctx, components.Engine, cfg.Search, kind, req)
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	writeResult(query, result, format)
}

// searchDirect validates req against the configured defaults and runs it on engine.
func searchDirect(ctx context.Context, engine *search.Engine, defaults config.SearchConfig, kind string, req *models.SearchRequest) (*models.SearchResult, error) {
	if err := req.Validate(defaults.DefaultTopK, defaults.MaxTopK, defaults.DefaultThreshold); err != nil {
		return nil, err
	}
	threshold := req.ThresholdOrZero()
	switch kind {
	case "text":
		return engine.SearchByText(ctx, req.Query, req.TopK, threshold)
	case "image":
		return engine.SearchByImage(ctx, models.ImageQuery{Path: req.Query}, req.TopK, threshold, req.IncludeSelf)
	case "ocr":
		return engine.SearchOCRText(ctx, req.Query, req.TopK, threshold)
	}
	return nil, fmt.Errorf("unknown search kind %q", kind)
}

// absImageQuery makes a relative file path absolute so a server with a
// different working directory resolves the same file.
func absImageQuery(q string) string {
	if imaging.IsURL(q) || strings.HasPrefix(q, "data:") || filepath.IsAbs(q) {
		return q
	}
	if abs, err := filepath.Abs(q); err == nil {
		return abs
	}
	return q
}

func writeResult(query string, result *models.SearchResult, format cli.OutputFormat) {
	if err := cli.WriteSearchResult(os.Stdout, query, result, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func writeKeyword(query string, resp *models.KeywordResponse, format cli.OutputFormat) {
	if err := cli.WriteKeywordResults(os.Stdout, query, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}
