package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/config"
	"github.com/dhcgn/pst-to-mime/imap"
	"github.com/dhcgn/pst-to-mime/runner"
	"github.com/dhcgn/pst-to-mime/stats"
	"github.com/dhcgn/pst-to-mime/tree"
)

var pushCmd = &cobra.Command{
	Use:   "push <accountRoot>",
	Short: "Upload an extracted account into IMAP mailboxes, one per folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPush(cmd, args[0])
		if err != nil {
			return err
		}
		logger.Info("starting push", "account", cfg.AccountRoot, "prefix", cfg.TargetPrefix, "dryRun", cfg.DryRun)
		_, err = runPush(cmd.Context(), cfg)
		return err
	},
}

func init() {
	if err := config.RegisterPushFlags(pushCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(pushCmd)
}

func runPush(ctx context.Context, cfg config.Push) (stats.Summary, error) {
	t, err := tree.Scan(cfg.AccountRoot)
	if err != nil {
		return stats.Summary{}, err
	}

	r, err := runner.New(ctx, cfg, t.Account, t.FolderMap(), logger)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("runner.New: %w", err)
	}
	reporter := stats.NewReporter(r, logger)

	tree.NewProducer(t, r, logger)

	uploaderOpts := imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		DryRun:             cfg.DryRun,
	}
	if _, err := imap.NewUploader(uploaderOpts, r, logger); err != nil {
		return stats.Summary{}, fmt.Errorf("imap.NewUploader: %w", err)
	}

	err = r.Wait()
	return reporter.Summary(), err
}
