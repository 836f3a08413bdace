package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/slmtnm/s4/internal/config"
	"github.com/slmtnm/s4/internal/core"
	"github.com/slmtnm/s4/internal/logging"
	"github.com/slmtnm/s4/internal/metrics"
	"github.com/slmtnm/s4/internal/retry"
	"github.com/slmtnm/s4/internal/store"
	"github.com/slmtnm/s4/internal/tui"
)

const defaultRegion = "eu-central-1"

var (
	configPath  string
	profile     string
	region      string
	endpoint    string
	logLevel    string
	logFile     string
	metricsAddr string
	concurrency int
	batchSize   int

	// interactive setup streams
	setupIn  io.Reader = os.Stdin
	setupOut io.Writer = os.Stdout
)

var rootCmd = &cobra.Command{
	Use:   "s4 [bucket[/prefix]]",
	Short: "Terminal navigator for S3 buckets",
	Long: `S4 is a TUI (Terminal User Interface) for browsing S3 buckets.

It lists buckets and prefixes like a file system, calculates recursive
directory sizes on demand, and deletes whole prefixes after confirmation.

Without an argument it starts at the bucket list. Configuration is read from
a .s3cfg file (compatible with s3cmd) or from an AWS profile.`,
	Example:       "  s4\n  s4 my-bucket\n  s4 my-bucket/logs/2025 --profile prod",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to .s3cfg (default: search ., ~ and /etc)")
	flags.StringVar(&profile, "profile", "", "AWS shared-config profile instead of .s3cfg credentials")
	flags.StringVar(&region, "region", defaultRegion, "AWS region")
	flags.StringVar(&endpoint, "endpoint", "", "S3-compatible endpoint URL, e.g. http://localhost:9000")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "log file (default: "+logging.DefaultPath()+")")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.IntVar(&concurrency, "concurrency", 0, "size calculations running at once")
	flags.IntVar(&batchSize, "batch-size", 0, "keys per delete request (max 1000)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, settings, err := resolve(cmd)
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Config{Level: settings.LogLevel, OutputPath: settings.LogFile}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()
	log := logging.L()

	client, err := store.NewS3(ctx, opts)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = settings.RetryAttempts

	start := ""
	if len(args) == 1 {
		var bucket string
		bucket, start = startPath(args[0])
		if bucket == "" {
			return fmt.Errorf("invalid location %q", args[0])
		}
		// Test bucket access
		headRetry := retryCfg
		headRetry.Retryable = store.IsTransient
		err := retry.Do(ctx, headRetry, func() error {
			return client.HeadBucket(ctx, bucket)
		})
		if err != nil {
			return fmt.Errorf("error accessing bucket '%s': %w\n\nPlease check:\n"+
				"  - Bucket name is correct\n"+
				"  - Your credentials have access to this bucket\n"+
				"  - Your S3 endpoint configuration is correct", bucket, err)
		}
	}

	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr, log)
		defer stop()
	}

	session := core.NewSession(client, core.Config{
		AggregateConcurrency: settings.AggregateConcurrency,
		DeleteBatchSize:      settings.DeleteBatchSize,
		ListWorkers:          settings.ListWorkers,
		Retry:                retryCfg,
		Logger:               log,
	})
	defer session.Close()

	if err := session.Navigate(start); err != nil {
		return err
	}
	log.Info("starting", zap.String("path", start), zap.String("region", opts.Region), zap.String("endpoint", opts.Endpoint))

	model := tui.NewModel(ctx, session, logging.Named("tui"))
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// resolve merges the configuration file with command-line flags. Flags win.
func resolve(cmd *cobra.Command) (store.S3Options, config.Settings, error) {
	flags := cmd.Flags()
	settings := config.DefaultSettings()
	var opts store.S3Options

	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		settings = cfg.Settings
	case errors.Is(err, config.ErrNotFound) && configPath == "" && profile == "":
		fmt.Fprintf(setupOut, "No S3 configuration found: %s\n", err)
		fmt.Fprintln(setupOut)

		// Offer interactive setup
		s3cfg, path, setupErr := config.InteractiveS3Setup(setupIn, setupOut)
		if setupErr != nil {
			// environment, shared config or instance role
			fmt.Fprintf(setupOut, "Setup skipped (%s); using the default AWS credential chain.\n"+
				"Create a .s3cfg in ., ~ or /etc, or pass --profile, to configure S4 explicitly.\n", setupErr)
			break
		}
		cfg = &config.Config{Path: path, S3: s3cfg, Settings: settings}
	case errors.Is(err, config.ErrNotFound) && configPath == "":
		// profile only
	default:
		return opts, settings, err
	}

	switch {
	case profile != "" || cfg == nil || cfg.S3 == nil:
		opts = store.S3Options{Profile: profile, Region: region, PageSize: settings.PageSize}
	default:
		opts = cfg.S3.Options(settings.PageSize)
		if flags.Changed("region") {
			opts.Region = region
		}
	}
	if endpoint != "" {
		opts.Endpoint = endpoint
		opts.PathStyle = true
	}

	if flags.Changed("log-level") {
		settings.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		settings.LogFile = logFile
	}
	if flags.Changed("concurrency") && concurrency > 0 {
		settings.AggregateConcurrency = concurrency
	}
	if flags.Changed("batch-size") && batchSize > 0 {
		settings.DeleteBatchSize = min(batchSize, config.DefaultSettings().DeleteBatchSize)
	}
	return opts, settings, nil
}

// startPath turns "bucket" or "bucket/prefix" into the bucket and the view
// path to open.
func startPath(arg string) (bucket, path string) {
	arg = strings.TrimPrefix(strings.TrimPrefix(arg, "s3://"), "/")
	bucket, prefix := store.SplitPath(arg)
	prefix = strings.Trim(prefix, "/")
	if bucket == "" || prefix == "" {
		return bucket, bucket
	}
	return bucket, store.JoinPath(bucket, prefix+"/")
}

// serveMetrics exposes /metrics until the returned function is called.
func serveMetrics(addr string, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
