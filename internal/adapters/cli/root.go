// Package cli is the command-line surface of the corpus pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/filings-corpus/internal/bootstrap"
	"github.com/kirillkom/filings-corpus/internal/config"
	"github.com/kirillkom/filings-corpus/internal/observability/logging"
)

// ErrCheckFailed marks a command that completed but found a problem; its report was already printed.
var ErrCheckFailed = errors.New("check failed")

type rootOptions struct {
	configPath string
	sourceDir  string
	shardDir   string
	backend    string
	extensions []string
	logLevel   string
	logFormat  string
	jsonOutput bool
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "corpus",
		Short: "Incremental, content-addressed PDF-to-text corpus builder",
		Long: `corpus extracts per-page text from the documents in a source directory and
appends the results to a directory of immutable parquet shards. Documents are
identified by the SHA-256 of their bytes, so re-runs only process new content.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.sourceDir, "source", "", "source document directory")
	flags.StringVar(&opts.shardDir, "out", "", "shard output directory")
	flags.StringVar(&opts.backend, "backend", "", "extractor backend: pdf, pdftotext or text")
	flags.StringSliceVar(&opts.extensions, "ext", nil, "source file extensions to include")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: json or text")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(runCmd(opts))
	root.AddCommand(spotCheckCmd(opts))
	root.AddCommand(auditCmd(opts))
	root.AddCommand(failuresCmd(opts))
	root.AddCommand(watchCmd(opts))
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrCheckFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}

// loadConfig layers command-line flags over the file and environment configuration.
func (o *rootOptions) loadConfig(cmd *cobra.Command, override func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.SourceDir = o.sourceDir
	}
	if flags.Changed("out") {
		cfg.ShardDir = o.shardDir
	}
	if flags.Changed("backend") {
		cfg.ExtractorBackend = o.backend
	}
	if flags.Changed("ext") {
		cfg.SourceExtensions = o.extensions
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *rootOptions) newApp(cmd *cobra.Command, override func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := o.loadConfig(cmd, override)
	if err != nil {
		return nil, err
	}
	log := logging.NewLogger(bootstrap.ServiceName, cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	return bootstrap.New(cmd.Context(), cfg, log)
}
