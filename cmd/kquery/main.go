package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kquery/kquery/internal/buildinfo"
	"github.com/kquery/kquery/internal/log"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
	dataFlag    string
)

// globalCtx is canceled on SIGINT/SIGTERM; commands use it for any
// cancellable operation (currently just index's crawl).
var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "kquery",
	Short: "Index a kernel-style source tree and query its build metadata",
	Long: `kquery indexes a Linux-kernel-style source tree and builds a queryable
database answering which CONFIG options gate a source file's compilation,
which device-tree compatible strings a driver claims, and which module
metadata a file exports.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output (includes timestamps and source locations)")
	rootCmd.PersistentFlags().StringVarP(&dataFlag, "data", "d", ".", "Directory holding the index file (index: defaults to the source root)")

	rootCmd.PersistentPreRun = initLogger

	rootCmd.Version = buildinfo.Version()

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(compatsCmd)
	rootCmd.AddCommand(configsCmd)
	rootCmd.AddCommand(compatCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(completionCmd)
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling operation...\n", sig)
		globalCancel()

		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitCancelled)
	}()

	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(exitCodeForError(err))
	}
}

// initLogger initializes the global logger based on flags and environment variables.
// Flags take precedence over environment variables.
func initLogger(cmd *cobra.Command, args []string) {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug})
	log.SetDefault(log.New(handler))
}

// determineLogLevel returns the appropriate slog.Level based on flags and environment variables.
// Priority: flags > environment variables > default (WARN).
func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}

	if isTruthy(os.Getenv("KQUERY_DEBUG")) {
		return slog.LevelDebug
	}
	if isTruthy(os.Getenv("KQUERY_VERBOSE")) {
		return slog.LevelInfo
	}
	if isTruthy(os.Getenv("KQUERY_QUIET")) {
		return slog.LevelError
	}

	return slog.LevelWarn
}

// isTruthy returns true if the string represents a truthy value.
func isTruthy(s string) bool {
	s = strings.ToLower(s)
	return s == "1" || s == "true" || s == "yes" || s == "on"
}
