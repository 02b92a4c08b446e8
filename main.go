// autodocstr adds missing docstrings to Python functions, asking a language
// model to write them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/phobologic/autodocstr/internal/config"
	"github.com/phobologic/autodocstr/internal/discover"
	"github.com/phobologic/autodocstr/internal/generate"
	"github.com/phobologic/autodocstr/internal/insert"
	"github.com/phobologic/autodocstr/internal/model"
	"github.com/phobologic/autodocstr/internal/pipeline"
	"github.com/phobologic/autodocstr/internal/scan"
	"github.com/phobologic/autodocstr/internal/toon"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(stdout, stderr, os.Getenv)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type rootFlags struct {
	configPath   string
	dryRun       bool
	diff         bool
	jobs         int
	concurrency  int
	model        string
	backend      string
	keepPass     bool
	commentIsDoc bool
	skipTests    bool
	noCache      bool
	report       bool
	verbose      bool
}

func newRootCommand(stdout, stderr io.Writer, getenv func(string) string) *cobra.Command {
	var f rootFlags

	cmd := &cobra.Command{
		Use:   "autodocstr [path]",
		Short: "Add missing docstrings to Python functions",
		Long: `Scan a Python project, find every function and method without a docstring,
ask a language model to write one, and insert it into the source.

Each file is rewritten only after the result has been reparsed and checked, so
a file is either fully updated or left untouched. Settings are read from
.autodocstr.yaml or [tool.autodocstr] in pyproject.toml; flags override them.

Examples:
  autodocstr                       # current directory
  autodocstr src/ --dry-run --diff # preview changes
  autodocstr --backend stub        # insert placeholder text, no API calls
  autodocstr init                  # write a default .autodocstr.yaml`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocument(cmd, args, f, stdout, stderr, getenv)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("autodocstr {{.Version}}\n")

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "config file (default: .autodocstr.yaml or pyproject.toml in path)")
	flags.BoolVarP(&f.dryRun, "dry-run", "n", false, "verify changes but do not write files")
	flags.BoolVar(&f.diff, "diff", false, "print a unified diff of each change")
	flags.IntVarP(&f.jobs, "jobs", "j", 0, "files processed at once (default: number of CPUs)")
	flags.IntVar(&f.concurrency, "concurrency", 0, "generation requests in flight per file")
	flags.StringVarP(&f.model, "model", "m", "", "model name")
	flags.StringVar(&f.backend, "backend", "", `generation backend: "openai" or "stub"`)
	flags.BoolVar(&f.keepPass, "keep-pass", false, "keep a lone pass/... body after the new docstring")
	flags.BoolVar(&f.commentIsDoc, "comment-is-doc", false, "treat a leading # comment as documentation")
	flags.BoolVar(&f.skipTests, "skip-tests", false, "leave test files (tests/, test_*.py, *_test.py) alone")
	flags.BoolVar(&f.noCache, "no-cache", false, "do not read or write the response cache")
	flags.BoolVar(&f.report, "report", false, "print a TOON run report to stdout")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log debug output")

	cmd.AddCommand(newInitCommand(stdout, stderr))
	return cmd
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cmd *cobra.Command, f rootFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("jobs") {
		cfg.Jobs = f.jobs
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("model") {
		cfg.Model = f.model
	}
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("keep-pass") {
		cfg.KeepPlaceholder = f.keepPass
	}
	if changed("comment-is-doc") {
		cfg.CommentCountsAsDoc = f.commentIsDoc
	}
	if changed("skip-tests") {
		cfg.SkipTests = f.skipTests
	}
}

func runDocument(cmd *cobra.Command, args []string, f rootFlags, stdout, stderr io.Writer, getenv func(string) string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := config.Load(root, f.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, f, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.NewWithOptions(stderr, log.Options{Prefix: "autodocstr"})
	if f.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.Source != "" {
		logger.Debug("loaded config", "path", cfg.Source)
	}

	gen, cache, err := buildGenerator(cfg, root, f.noCache, getenv)
	if err != nil {
		return err
	}

	// Discover files
	files, err := discover.Files(root, discover.Options{
		Languages: []string{"python"},
		Exclude:   cfg.Exclude,
		SkipTests: cfg.SkipTests,
	})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no parseable files found")
	}
	logger.Debug("discovered files", "count", len(files))

	runner := pipeline.New(gen, pipeline.Options{
		Jobs:        cfg.Jobs,
		Concurrency: cfg.Concurrency,
		DryRun:      f.dryRun,
		Diff:        f.diff,
		MaxFileSize: cfg.MaxFileSize,
		Insert: insert.Options{
			KeepPlaceholder: cfg.KeepPlaceholder,
			Scan:            scan.Options{CommentCountsAsDoc: cfg.CommentCountsAsDoc},
		},
		Logger: logger,
	})
	ctx := cmd.Context()
	report := runner.Run(ctx, root, files)

	if cache != nil {
		if err := cache.Save(); err != nil {
			logger.Warn("saving cache", "err", err)
		}
		hits, misses := cache.Stats()
		logger.Debug("cache", "hits", hits, "misses", misses)
	}

	if f.diff {
		for i := range report.Files {
			if d := report.Files[i].Diff; d != "" {
				_, _ = fmt.Fprint(stdout, d)
			}
		}
	}
	if f.report {
		_, _ = fmt.Fprintln(stdout, toon.Encode(report))
	}

	changedState := "written"
	changed := report.Count(model.Written)
	if f.dryRun {
		changedState = "verified"
		changed = report.Count(model.Verified)
	}
	logger.Info("done",
		"files", len(report.Files),
		changedState, changed,
		"inserted", report.Inserted(),
		"skipped", report.SiteFailures(),
		"failed", report.Failed(),
	)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d file(s) failed to parse, verify or write", n)
	}
	return nil
}

// buildGenerator assembles the generation chain for cfg. The API key is read
// from the environment here and nowhere else. The returned cache is nil when
// caching is off.
func buildGenerator(cfg config.Config, root string, noCache bool, getenv func(string) string) (generate.Generator, *generate.Cache, error) {
	if cfg.Backend == config.BackendStub {
		gen, err := generate.NewTruncating(generate.Stub{Text: cfg.StubText}, cfg.MaxBodyTokens)
		return gen, nil, err
	}

	client, err := generate.NewOpenAI(generate.OpenAIConfig{
		APIKey:     getenv(cfg.APIKeyEnv),
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
	})
	if errors.Is(err, generate.ErrMissingAPIKey) {
		return nil, nil, fmt.Errorf("%s: %w (or use --backend stub)", cfg.APIKeyEnv, err)
	}
	if err != nil {
		return nil, nil, err
	}

	gen, err := generate.NewTruncating(client, cfg.MaxBodyTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	gen = generate.NewRateLimited(gen, cfg.RequestsPerMinute)

	if noCache || cfg.Cache == "" {
		return gen, nil, nil
	}
	path := cfg.Cache
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	cache, err := generate.NewCache(gen, path, client.Model())
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}
