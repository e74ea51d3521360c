// Package cmd wires the pst-to-mime command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/archive"
	"github.com/dhcgn/pst-to-mime/config"
	"github.com/dhcgn/pst-to-mime/logging"
)

var (
	logger   = slog.New(logging.NewPrefixHandler(os.Stdout, nil))
	logLevel = new(slog.LevelVar)
	closeLog = func() error { return nil }

	// openArchive opens PST files for extract and tomes.
	openArchive archive.OpenFunc = archive.OpenPST
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pst-to-mime",
		Short:         "Extract the messages of Outlook PST files into per-folder EML trees",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Apply(cmd); err != nil {
				return err
			}
			global, err := config.LoadGlobal(cmd)
			if err != nil {
				return err
			}
			l, cleanup, err := setupLogger(global, os.Stdout)
			if err != nil {
				return err
			}
			logger, closeLog = l, cleanup
			slog.SetDefault(logger)
			return nil
		},
	}
	config.RegisterGlobalFlags(root)
	return root
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.Log(ctx, logging.LevelCritical, "Fatal error", "err", err)
	}
	if closeErr := closeLog(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", closeErr)
	}
	return ExitCode(err)
}

// ExitCode maps err to a process exit status: 0 without an error, the
// wrapped syscall.Errno of an OS failure, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}

func setupLogger(cfg config.Global, stdout io.Writer) (*slog.Logger, func() error, error) {
	switch cfg.LogLevel {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	cleanup := func() error { return nil }

	out := stdout
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("pst-to-mime-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}
		out = io.MultiWriter(stdout, file)
		cleanup = file.Close
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = logging.NewPrefixHandler(out, opts)
	}
	return slog.New(handler), cleanup, nil
}
