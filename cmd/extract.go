package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/config"
	"github.com/dhcgn/pst-to-mime/extract"
	"github.com/dhcgn/pst-to-mime/filter"
	"github.com/dhcgn/pst-to-mime/metrics"
	"github.com/dhcgn/pst-to-mime/progress"
	"github.com/dhcgn/pst-to-mime/stats"
)

var extractCmd = &cobra.Command{
	Use:   "extract <accountName> <pstFilePath> <outputPath>",
	Short: "Extract every message of a PST file into <outputPath>/<accountName>",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadExtract(cmd, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return runExtract(cmd.Context(), cfg)
	},
}

var tomesCmd = &cobra.Command{
	Use:   "tomes <pstFileName> <accountName>",
	Short: "Extract a PST file below the fixed TOMES input and output roots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadTomes(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		return runExtract(cmd.Context(), cfg)
	},
}

func init() {
	config.RegisterExtractFlags(extractCmd)
	config.RegisterTomesFlags(tomesCmd)
	rootCmd.AddCommand(extractCmd, tomesCmd)
}

func runExtract(ctx context.Context, cfg config.Extract) error {
	selector, err := filter.New(filter.Options{
		IncludeFolders: cfg.IncludeFolders,
		ExcludeFolders: cfg.ExcludeFolders,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	m := metrics.New()
	bar := progress.New(cfg.Progress)
	if cfg.Progress && logLevel.Level() < slog.LevelWarn {
		logLevel.Set(slog.LevelWarn)
	}

	o, err := extract.New(extract.Options{
		OutputRoot: cfg.OutputRoot,
		Force:      cfg.Force,
		Open:       openArchive,
		Selector:   selector,
		Events:     stats.Sinks{m, bar},
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("extract.New: %w", err)
	}

	summary, runErr := o.Run(ctx, cfg.PSTPath, cfg.AccountName)
	bar.Stop(summary, logger)

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			if runErr != nil {
				logger.Error("writing metrics failed", "path", cfg.MetricsFile, "err", err)
			} else {
				runErr = err
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Extraction finished", append(summary.ExtractAttrs(), "account", o.AccountDir(cfg.AccountName))...)
	return nil
}
