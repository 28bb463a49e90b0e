// Package main provides the semgen binary entry point. Semgen compiles
// an RDF ontology, queries, and templates into source artifacts with a
// verifiable provenance receipt.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c360studio/semgen/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semgen"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	manifestPath string
	workspace    string
	logLevel     string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "semgen",
		Short: "Deterministic ontology-driven code generator",
		Long: `Semgen compiles an RDF ontology, declarative queries, and templates
into source artifacts. Every run produces a provenance receipt whose
hashes can be verified later to prove the outputs came from the
recorded inputs.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(flags.logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.manifestPath, "manifest", "m", "", "Manifest file path (default: semgen.yaml found by walking up)")
	cmd.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", "", "Workspace root (default: the manifest's directory)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newGenerateCmd(flags),
		newPreviewCmd(flags),
		newVerifyCmd(flags),
		newWatchCmd(flags),
		newOpsCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

func configureLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadConfig resolves the manifest: an explicit path wins, otherwise
// the layered loader walks up from the working directory.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	loader := config.NewLoader(slog.Default())

	var cfg *config.Config
	var err error
	if flags.manifestPath != "" {
		cfg, err = loader.LoadManifest(flags.manifestPath)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, err
	}

	if flags.workspace != "" {
		abs, err := filepath.Abs(flags.workspace)
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("workspace is not a directory: %s", abs)
		}
		cfg.Workspace.Root = abs
	}
	return cfg, nil
}
