package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/config"
	"github.com/dhcgn/pst-to-mime/publish"
	"github.com/dhcgn/pst-to-mime/stats"
)

var publishCmd = &cobra.Command{
	Use:   "publish <accountRoot> <s3://bucket/prefix>",
	Short: "Upload an extracted account to S3",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPublish(cmd, args[0], args[1])
		if err != nil {
			return err
		}

		store, err := publish.NewS3(cmd.Context(), cfg.Region)
		if err != nil {
			return err
		}
		collector := stats.NewCollector()
		p, err := publish.New(publish.Options{
			Bucket:      cfg.Bucket,
			Prefix:      cfg.Prefix,
			Concurrency: cfg.Concurrency,
		}, store, logger, collector)
		if err != nil {
			return fmt.Errorf("publish.New: %w", err)
		}

		uploaded, err := p.Publish(cmd.Context(), cfg.AccountRoot)
		summary := collector.Snapshot()
		logger.Info("Publishing finished", "uploaded", uploaded, "errors", summary.Errors, "target", args[1])
		return err
	},
}

func init() {
	config.RegisterPublishFlags(publishCmd)
	rootCmd.AddCommand(publishCmd)
}
