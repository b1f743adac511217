// Command snapshotd runs the daily snapshot pipeline: it discovers local
// JSONL sources, fetches each dataset once, and writes a dated partition
// per dataset to the configured storage base.
//
// Inspection flags (-list-datasets, -list-dates, -show-manifest) read
// instead of write and exit without touching the pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/joho/godotenv"

	"github.com/halcyonhealth/snapstore/internal/config"
	"github.com/halcyonhealth/snapstore/internal/exitcode"
	"github.com/halcyonhealth/snapstore/internal/source"
	"github.com/halcyonhealth/snapstore/snapstore"
	s3store "github.com/halcyonhealth/snapstore/snapstore/s3"
)

func main() {
	// Configure the global logger
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	// Parse CLI flags
	baseFlag := flag.String("base", "", "Snapshot base URI (overrides "+config.EnvBaseURI+")")
	dateFlag := flag.String("date", "", "Snapshot date YYYY-MM-DD (default: today for writes, latest for reads)")
	onlyFlag := flag.String("only", "", "Comma-separated dataset keys to snapshot (default: all discovered)")
	listDatasets := flag.Bool("list-datasets", false, "Print discovered dataset keys and exit")
	listDates := flag.String("list-dates", "", "Print available snapshot dates for a dataset and exit")
	showManifest := flag.String("show-manifest", "", "Print the manifest for a dataset and exit")
	flag.Parse()

	if *dateFlag != "" {
		if _, err := time.Parse("2006-01-02", *dateFlag); err != nil {
			slog.Error("invalid date format", "date", *dateFlag)
			fmt.Fprintf(os.Stderr, "Usage: date must be in YYYY-MM-DD format\n")
			os.Exit(exitcode.ConfigError)
		}
	}

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}

	rawBase := cfg.BaseURI
	if *baseFlag != "" {
		rawBase = *baseFlag
	}
	base, err := snapstore.CoerceBase(rawBase)
	if err != nil {
		slog.Error("invalid snapshot base", "base", rawBase, "error", err)
		os.Exit(exitcode.ConfigError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, base, cfg)
	if err != nil {
		slog.Error("failed to open store", "base", base, "error", err)
		os.Exit(exitcode.ConfigError)
	}

	switch {
	case *listDatasets:
		os.Exit(runListDatasets(cfg.SourceDir))
	case *listDates != "":
		os.Exit(runListDates(ctx, store, base, *listDates))
	case *showManifest != "":
		os.Exit(runShowManifest(ctx, store, base, *showManifest, *dateFlag))
	}

	os.Exit(runSnapshots(ctx, store, base, cfg.SourceDir, *onlyFlag, *dateFlag))
}

// openStore picks the storage backend from the coerced base URI.
func openStore(ctx context.Context, base string, cfg *config.Config) (snapstore.Store, error) {
	if !snapstore.IsS3(base) {
		return snapstore.NewFS(snapstore.LocalPath(base))
	}

	bucket, prefix, err := snapstore.SplitS3(base)
	if err != nil {
		return nil, err
	}

	clientCfg := s3store.ClientConfig{
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	}
	if cfg.S3AccessKey != "" {
		clientCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	client, err := s3store.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}

	return s3store.New(client, s3store.Config{Bucket: bucket, Prefix: prefix})
}

func runListDatasets(sourceDir string) int {
	sources, err := source.Discover(sourceDir)
	if err != nil {
		slog.Error("source discovery failed", "dir", sourceDir, "error", err)
		return exitcode.ConfigError
	}
	for _, src := range sources {
		fmt.Println(src.Dataset())
	}
	return exitcode.Success
}

func runListDates(ctx context.Context, store snapstore.Store, base, dataset string) int {
	reader, err := snapstore.NewReader(store, base)
	if err != nil {
		slog.Error("failed to create reader", "error", err)
		return exitcode.ConfigError
	}
	dates, err := reader.ListDates(ctx, dataset)
	if err != nil {
		slog.Error("listing dates failed", "dataset", dataset, "error", err)
		return exitcode.StorageError
	}
	for _, d := range dates {
		fmt.Println(d)
	}
	return exitcode.Success
}

func runShowManifest(ctx context.Context, store snapstore.Store, base, dataset, date string) int {
	reader, err := snapstore.NewReader(store, base)
	if err != nil {
		slog.Error("failed to create reader", "error", err)
		return exitcode.ConfigError
	}
	manifest, err := reader.LoadManifest(ctx, dataset, date)
	if err != nil {
		slog.Error("loading manifest failed", "dataset", dataset, "date", date, "error", err)
		return exitcode.StorageError
	}
	fmt.Printf("dataset:      %s\n", manifest.Dataset)
	fmt.Printf("produced_for: %s\n", manifest.ProducedFor)
	fmt.Printf("produced_at:  %s\n", manifest.ProducedAt.Format(time.RFC3339))
	fmt.Printf("rows:         %d\n", manifest.Rows)
	fmt.Printf("columns:      %s\n", strings.Join(manifest.Columns, ", "))
	fmt.Printf("host:         %s\n", manifest.Host)
	if manifest.QuerySHA != nil {
		fmt.Printf("soql_sha:     %s\n", *manifest.QuerySHA)
	}
	fmt.Printf("base_uri:     %s\n", manifest.BaseURI)
	fmt.Printf("version:      %s\n", manifest.Version)
	return exitcode.Success
}

// runSnapshots is the pipeline proper: one fetch and one partition write
// per selected dataset. Failures are per-dataset; remaining datasets still
// run and the worst failure decides the exit code.
func runSnapshots(ctx context.Context, store snapstore.Store, base, sourceDir, only, date string) int {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	sources, err := source.Discover(sourceDir)
	if err != nil {
		slog.Error("source discovery failed", "dir", sourceDir, "error", err)
		return exitcode.ConfigError
	}
	if len(sources) == 0 {
		slog.Warn("no sources discovered", "dir", sourceDir)
		return exitcode.Success
	}

	registry := snapstore.NewRegistry()
	for _, src := range sources {
		if err := registry.Register(src.Dataset(), snapstore.Cached(src)); err != nil {
			slog.Error("registration failed", "dataset", src.Dataset(), "error", err)
			return exitcode.ConfigError
		}
	}

	selected, code := selectDatasets(registry, only)
	if code != exitcode.Success {
		return code
	}

	writer, err := snapstore.NewWriter(store, base)
	if err != nil {
		slog.Error("failed to create writer", "error", err)
		return exitcode.ConfigError
	}

	worst := exitcode.Success
	written := 0
	for _, dataset := range selected {
		src, _ := registry.Lookup(dataset)

		tbl, fingerprint, err := src.Fetch(ctx)
		if err != nil {
			slog.Error("fetch failed", "dataset", dataset, "error", err)
			worst = max(worst, exitcode.DataError)
			continue
		}
		if tbl.Empty() {
			slog.Error("source produced no rows", "dataset", dataset)
			worst = max(worst, exitcode.DataError)
			continue
		}

		manifest, err := writer.WriteSnapshot(ctx, dataset, date, tbl, fingerprint)
		if err != nil {
			slog.Error("snapshot write failed", "dataset", dataset, "date", date, "error", err)
			worst = max(worst, exitcode.StorageError)
			continue
		}

		written++
		slog.Info("snapshot written",
			"dataset", dataset,
			"date", manifest.ProducedFor,
			"rows", manifest.Rows,
			"columns", len(manifest.Columns),
		)
	}

	slog.Info("run complete",
		"date", date,
		"datasets", len(selected),
		"written", written,
		"failed", len(selected)-written,
	)
	return worst
}

// selectDatasets resolves -only against the registry, preserving
// registration order. Unknown keys are a configuration error.
func selectDatasets(registry *snapstore.Registry, only string) ([]string, int) {
	if only == "" {
		return registry.Names(), exitcode.Success
	}

	want := make(map[string]bool)
	for _, name := range strings.Split(only, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := registry.Lookup(name); !ok {
			slog.Error("unknown dataset in -only", "dataset", name, "known", registry.Names())
			return nil, exitcode.ConfigError
		}
		want[name] = true
	}

	var selected []string
	for _, name := range registry.Names() {
		if want[name] {
			selected = append(selected, name)
		}
	}
	return selected, exitcode.Success
}
