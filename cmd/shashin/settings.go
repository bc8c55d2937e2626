package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/shashin/internal/config"
	"gopkg.in/yaml.v3"
)

// setting applies a string value to one config field.
type setting func(cfg *config.Config, value string) error

func boolSetting(field func(*config.Config) *bool) setting {
	return func(cfg *config.Config, value string) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", value)
		}
		*field(cfg) = v
		return nil
	}
}

func intSetting(field func(*config.Config) *int) setting {
	return func(cfg *config.Config, value string) error {
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("expected a non-negative integer, got %q", value)
		}
		*field(cfg) = v
		return nil
	}
}

func floatSetting(field func(*config.Config) *float64) setting {
	return func(cfg *config.Config, value string) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", value)
		}
		*field(cfg) = v
		return nil
	}
}

func stringSetting(field func(*config.Config) *string, allowed ...string) setting {
	return func(cfg *config.Config, value string) error {
		if len(allowed) > 0 {
			ok := false
			for _, a := range allowed {
				if a == value {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("expected one of %s, got %q", strings.Join(allowed, ", "), value)
			}
		}
		*field(cfg) = value
		return nil
	}
}

var settings = map[string]setting{
	"debug":                    boolSetting(func(c *config.Config) *bool { return &c.Debug }),
	"server.host":              stringSetting(func(c *config.Config) *string { return &c.Server.Host }),
	"server.port":              intSetting(func(c *config.Config) *int { return &c.Server.Port }),
	"index.batch_size":         intSetting(func(c *config.Config) *int { return &c.Index.BatchSize }),
	"index.deep_scan":          boolSetting(func(c *config.Config) *bool { return &c.Index.DeepScan }),
	"index.workers":            intSetting(func(c *config.Config) *int { return &c.Index.Workers }),
	"scan.method":              stringSetting(func(c *config.Config) *string { return &c.Scan.Method }, config.ScanMethodDefault, config.ScanMethodEverything),
	"scan.everything_url":      stringSetting(func(c *config.Config) *string { return &c.Scan.EverythingURL }),
	"vector.backend":           stringSetting(func(c *config.Config) *string { return &c.Vector.Backend }, "sqlite", "memory", "qdrant"),
	"clip.provider":            stringSetting(func(c *config.Config) *string { return &c.CLIP.Provider }, "onnx", "mock"),
	"text_embed.provider":      stringSetting(func(c *config.Config) *string { return &c.TextEmbed.Provider }, "ollama", "openai", "clip", "mock"),
	"ocr.provider":             stringSetting(func(c *config.Config) *string { return &c.OCR.Provider }, "none", "http", "sidecar"),
	"ocr.endpoint":             stringSetting(func(c *config.Config) *string { return &c.OCR.Endpoint }),
	"ocr.min_confidence":       floatSetting(func(c *config.Config) *float64 { return &c.OCR.MinConfidence }),
	"search.default_top_k":     intSetting(func(c *config.Config) *int { return &c.Search.DefaultTopK }),
	"search.default_threshold": floatSetting(func(c *config.Config) *float64 { return &c.Search.DefaultThreshold }),
	"watch.enabled":            boolSetting(func(c *config.Config) *bool { return &c.Watch.Enabled }),
	"watch.debounce_ms":        intSetting(func(c *config.Config) *int { return &c.Watch.DebounceMS }),
}

func settingKeys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applySetting sets key to value on cfg.
func applySetting(cfg *config.Config, key, value string) error {
	set, ok := settings[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys(), ", "))
	}
	if err := set(cfg, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// editDirectories adds or removes dir from the include or exclude list.
// Returns whether the list changed.
func editDirectories(cfg *config.Config, action, dir string) bool {
	var changed bool
	switch action {
	case "add-include":
		cfg.Scan.IncludeDirectories, changed = config.AddDirectory(cfg.Scan.IncludeDirectories, dir)
	case "remove-include":
		cfg.Scan.IncludeDirectories, changed = config.RemoveDirectory(cfg.Scan.IncludeDirectories, dir)
	case "add-exclude":
		cfg.Scan.ExcludeDirectories, changed = config.AddDirectory(cfg.Scan.ExcludeDirectories, dir)
	case "remove-exclude":
		cfg.Scan.ExcludeDirectories, changed = config.RemoveDirectory(cfg.Scan.ExcludeDirectories, dir)
	}
	return changed
}

// writeSettings prints cfg with secrets masked.
func writeSettings(w io.Writer, cfg *config.Config, asJSON bool) error {
	shown := *cfg
	shown.TextEmbed.OpenAIAPIKey = mask(shown.TextEmbed.OpenAIAPIKey)
	shown.Vector.Qdrant.APIKey = mask(shown.Vector.Qdrant.APIKey)
	cfg = &shown
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func printSettingsUsage() {
	fmt.Fprintln(os.Stderr, `Usage: shashin settings <command> [flags] [args]

Commands:
  show                    Print the effective configuration
  set <key> <value>       Change one setting
  add-include <dir>       Index images under dir
  remove-include <dir>    Stop indexing dir
  add-exclude <dir>       Skip images under dir
  remove-exclude <dir>    Stop skipping dir

Directory changes go through a running server when one answers, so the
watcher and the next index run pick them up immediately.

Keys for set:`)
	for _, k := range settingKeys() {
		fmt.Fprintf(os.Stderr, "  %s\n", k)
	}
}

func runSettings(args []string) {
	if len(args) < 1 {
		printSettingsUsage()
		os.Exit(1)
	}
	action := args[0]
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL for directory changes (empty = edit the file only)")
	outputFormat := fs.String("output", "text", "show: output format, text (YAML) or json")
	_ = fs.Parse(searchArgsReorder(args[1:]))

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	switch action {
	case "show":
		if err := writeSettings(os.Stdout, cfg, parseFormat(*outputFormat) == "json"); err != nil {
			fatalf("Output failed: %v", err)
		}
	case "set":
		if fs.NArg() != 2 {
			printSettingsUsage()
			os.Exit(1)
		}
		if err := applySetting(cfg, fs.Arg(0), fs.Arg(1)); err != nil {
			fatalf("%v", err)
		}
		if err := config.Save(resolved, cfg); err != nil {
			fatalf("Save failed: %v", err)
		}
		fmt.Printf("%s = %s (saved to %s; restart the server to apply)\n", fs.Arg(0), fs.Arg(1), resolved)
	case "add-include", "remove-include", "add-exclude", "remove-exclude":
		if fs.NArg() != 1 {
			printSettingsUsage()
			os.Exit(1)
		}
		dir, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fatalf("Invalid path: %v", err)
		}
		exclude := strings.HasSuffix(action, "-exclude")
		if client := connect(*serverURL); client != nil {
			ctx := context.Background()
			if strings.HasPrefix(action, "add-") {
				err = client.AddDirectory(ctx, dir, exclude)
			} else {
				err = client.RemoveDirectory(ctx, dir, exclude)
			}
			if err != nil {
				fatalf("%s failed: %v", action, err)
			}
			fmt.Printf("%s: %s\n", action, dir)
			return
		}
		if !editDirectories(cfg, action, dir) {
			fmt.Printf("%s: %s (no change)\n", action, dir)
			return
		}
		if err := config.Save(resolved, cfg); err != nil {
			fatalf("Save failed: %v", err)
		}
		fmt.Printf("%s: %s (saved to %s)\n", action, dir, resolved)
	default:
		fmt.Fprintf(os.Stderr, "Unknown settings command: %s\n", action)
		printSettingsUsage()
		os.Exit(1)
	}
}
