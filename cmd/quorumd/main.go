package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/collapsinghierarchy/quorum/config"
)

const programName = "quorumd"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

func commonRun(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug || globalFlags.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: logLevel == slog.LevelDebug,
		Level:     logLevel,
	}))
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("version: "+version, "component", programName)
	return logger
}

// loadConfig resolves the configuration for commands that need it and
// stores it on the command context.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg := config.FromContext(cmd.Context()); cfg != nil {
		return cfg, nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cmd.SetContext(config.WithContext(cmd.Context(), cfg))
	return cfg, nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), programName, version)
		},
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Commit-reveal contribution verification service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(keygenCommand())
	rootCmd.AddCommand(sealCommand())
	rootCmd.AddCommand(unsealCommand())
	rootCmd.AddCommand(treeCommand())
	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
