package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	format   string
	logLevel string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "surface",
		Short:         "Discover the public API surface of a Rust library",
		Long:          "Surface resolves a library's public items, trait impls and Send/Sync facts from source, tolerating whatever it cannot resolve.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyEnv(cmd.Flags(), os.Getenv)
		},
		// No Run: prints help by default.
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.format, "format", "json", "output format")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(newResolveCmd(g))
	root.AddCommand(newShowCmd(g))
	return root
}

// envFlags maps flags to the environment variables that supply their
// defaults.
var envFlags = map[string]string{
	"workers":        "SURFACE_WORKERS",
	"expand-timeout": "SURFACE_EXPAND_TIMEOUT",
	"log-level":      "SURFACE_LOG_LEVEL",
	"scripts-dir":    "SURFACE_SCRIPTS_DIR",
}

// applyEnv sets every flag the user did not pass from its environment
// variable, when that is set.
func applyEnv(fs *pflag.FlagSet, getenv func(string) string) error {
	for flag, env := range envFlags {
		if fs.Lookup(flag) == nil || fs.Changed(flag) {
			continue
		}
		v := strings.TrimSpace(getenv(env))
		if v == "" {
			continue
		}
		if err := fs.Set(flag, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

// newLogger builds a text logger on w at the named level.
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning", "":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// validateFormat checks that format is one of valid.
func validateFormat(format string, valid ...string) error {
	for _, f := range valid {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q (valid: %s)", format, strings.Join(valid, ", "))
}
