// Package main is the zake CLI entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/zake/internal/cli"
	"github.com/hyperjump/zake/internal/config"
	"github.com/hyperjump/zake/internal/models"
	"github.com/hyperjump/zake/internal/server"
	"github.com/hyperjump/zake/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/zake/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	clientTimeout     = 5 * time.Minute
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory takes precedence so that "zake server" from a project
// dir uses the project's config. When neither exists, built-in defaults are
// used. Returns the config and the path that was actually loaded ("" for
// defaults).
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "embed":
		runEmbed()
	case "rerank":
		runRerank()
	case "cache":
		runCache()
	case "version", "--version", "-v":
		fmt.Printf("zake version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, batches, cache lookups)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("engine", cfg.Embedding.Engine),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if components.ModelWatcher != nil {
		if err := components.ModelWatcher.Start(context.Background()); err != nil {
			logger.Warn("model watcher failed to start", zap.Error(err))
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := server.NewServer(
		components.Embeddings,
		components.Reranker,
		components.Store,
		&cfg.Server,
		logger,
		components.Metrics,
		metricsPath,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func argsReorder(args []string) []string {
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

// buildQuery joins all positional args with spaces so multi-word queries work
// the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readDocuments returns one document per non-blank line of r.
func readDocuments(r io.Reader) ([]string, error) {
	var docs []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			docs = append(docs, line)
		}
	}
	return docs, scanner.Err()
}

// documentsFromFile reads documents from path, or from stdin when path is "-".
func documentsFromFile(path string) ([]string, error) {
	if path == "-" {
		return readDocuments(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readDocuments(f)
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runEmbed() {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	cached := fs.Bool("cache", false, "use the embedding cache")
	file := fs.String("file", "", "embed one document per line of this file (- for stdin)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: zake embed [flags] <text>\n       zake embed [flags] -file <path>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	client := cli.NewClient(*serverURL, clientTimeout)
	ctx := context.Background()

	var response *models.EmbeddingsResponse
	if *file != "" {
		docs, err := documentsFromFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read documents: %v\n", err)
			os.Exit(1)
		}
		response, err = client.EmbedDocuments(ctx, docs, *cached)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		query := buildQuery(fs.Args())
		if query == "" {
			fs.Usage()
			os.Exit(1)
		}
		single, err := client.EmbedQuery(ctx, query, *cached)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Embed failed: %v\n", err)
			os.Exit(1)
		}
		response = &models.EmbeddingsResponse{
			Status:   single.Status,
			Vectors:  [][]float32{single.Vector},
			Metadata: single.Metadata,
		}
	}
	if err := cli.WriteEmbeddings(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRerank() {
	fs := flag.NewFlagSet("rerank", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	model := fs.String("model", "", "reranker model (default from server config)")
	topK := fs.Int("top-k", 0, "number of results (default from server config)")
	returnDocs := fs.Bool("return-documents", true, "include document texts in results")
	file := fs.String("file", "", "read documents from this file, one per line (- for stdin)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: zake rerank [flags] <query> <document>...\n       zake rerank [flags] -file <path> <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	args := fs.Args()
	if len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}
	query := args[0]
	docs := args[1:]
	if *file != "" {
		var err error
		docs, err = documentsFromFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read documents: %v\n", err)
			os.Exit(1)
		}
		query = buildQuery(args)
	}
	if len(docs) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	req := &models.RerankRequest{
		Model:           *model,
		Query:           query,
		Documents:       docs,
		ReturnDocuments: returnDocs,
	}
	if *topK > 0 {
		req.TopK = topK
	}
	response, err := cli.NewClient(*serverURL, clientTimeout).Rerank(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rerank failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRerankResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runCache() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: zake cache <clear|stats> [flags]")
		fmt.Println("  zake cache clear   Remove every cached embedding and scratch file")
		fmt.Println("  zake cache stats   Show cached entry count and disk usage")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[3:])
	format := parseFormat(*outputFormat)
	ctx := context.Background()

	if *serverURL != "" {
		client := cli.NewClient(*serverURL, clientTimeout)
		switch sub {
		case "clear":
			if err := client.ClearCache(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Cache cleared")
		case "stats":
			stats, err := client.CacheStats(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
				os.Exit(1)
			}
			_ = cli.WriteCacheStats(os.Stdout, stats, format)
		default:
			fmt.Printf("Unknown cache subcommand: %s\n", sub)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, backend, err := openCache(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	switch sub {
	case "clear":
		if err := store.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Cache cleared")
	case "stats":
		stats, err := store.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
			os.Exit(1)
		}
		_ = cli.WriteCacheStats(os.Stdout, &models.CacheStatsResponse{
			Entries:       stats.Entries,
			Bytes:         stats.Bytes,
			MemoryEntries: stats.MemoryEntries,
		}, format)
	default:
		fmt.Printf("Unknown cache subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`zake - Embedding and reranking server

Usage:
  zake server [flags]                    Start the HTTP server
  zake embed [flags] <text>              Embed a text
  zake rerank [flags] <query> <doc>...   Rerank documents against a query
  zake cache <clear|stats> [flags]       Manage the embedding cache
  zake version                           Show version
  zake help                              Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/zake/config.yaml)
  --debug            Enable debug logging

Embed Flags:
  --server string    Server URL (default: http://localhost:8080)
  --cache            Use the embedding cache
  --file string      Embed one document per line of a file (- for stdin)
  --output string    Output format: text, compact, or json (default: text)

Rerank Flags:
  --server string    Server URL (default: http://localhost:8080)
  --model string     Reranker model (default from server config)
  --top-k int        Number of results (default from server config)
  --return-documents Include document texts (default: true)
  --file string      Read documents from a file, one per line (- for stdin)
  --output string    Output format: text, compact, or json (default: text)

Cache Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL. Empty (default) opens the cache directly.
  --output string    Output format: text or json (default: text)

Examples:
  zake server
  zake embed "what is a vector database"
  zake embed --cache --file docs.txt --output json
  zake rerank "capital of france" "Paris is in France" "Berlin is in Germany"
  zake cache stats
  zake cache clear --server http://localhost:8080`)
}
