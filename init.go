package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/autodocstr/internal/config"
)

const (
	sentinelStart = "# autodocstr:start"
	sentinelEnd   = "# autodocstr:end"
)

const configHeader = `# autodocstr settings. Command-line flags override these values.
# The API key is read from the environment variable named by api_key_env.
`

// runInit implements the `autodocstr init` subcommand.
func runInit(args []string, stdout, stderr io.Writer) error {
	cmd := newInitCommand(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.Execute()
}

func newInitCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default .autodocstr.yaml and ignore the response cache",
		Long: `Write a default .autodocstr.yaml to the project at path (default: current
directory) and add the response cache file to .gitignore. The .gitignore entry is
wrapped in sentinel comments so it can be updated in place on later runs
without touching surrounding content.

An existing .autodocstr.yaml is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return initProject(root, dryRun, force, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying any file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing .autodocstr.yaml")
	return cmd
}

func initProject(root string, dryRun, force bool, stdout, stderr io.Writer) error {
	cfg := config.Default()
	body, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	content := configHeader + string(body)

	configPath := filepath.Join(root, config.FileName)
	_, statErr := os.Stat(configPath)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", configPath, statErr)
	}

	ignorePath := filepath.Join(root, ".gitignore")
	existing, _ := os.ReadFile(ignorePath)
	ignore := applySection(string(existing), generateSection(cfg.Cache))

	if dryRun {
		_, _ = fmt.Fprintf(stdout, "%s:\n%s\n", configPath, content)
		_, _ = fmt.Fprintf(stdout, "%s:\n%s", ignorePath, ignore)
		return nil
	}

	if exists && !force {
		_, _ = fmt.Fprintf(stderr, "%s exists, leaving it unchanged (use --force to overwrite)\n", configPath)
	} else {
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", configPath, err)
		}
		_, _ = fmt.Fprintf(stderr, "wrote %s\n", configPath)
	}

	if err := os.WriteFile(ignorePath, []byte(ignore), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", ignorePath, err)
	}
	_, _ = fmt.Fprintf(stderr, "updated %s\n", ignorePath)
	return nil
}

// generateSection returns the sentinel-wrapped .gitignore block.
func generateSection(cacheFile string) string {
	return sentinelStart + "\n" + cacheFile + "\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) == 0 {
		return section + "\n"
	}
	return content + "\n" + section + "\n"
}
