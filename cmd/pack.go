package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/mbox"
	"github.com/dhcgn/pst-to-mime/tree"
)

var packCmd = &cobra.Command{
	Use:   "pack <accountRoot> <destDir>",
	Short: "Bundle every extracted folder into <destDir>/<folderId>.mbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tree.Scan(args[0])
		if err != nil {
			return err
		}
		packer, err := mbox.NewPacker(args[1], logger)
		if err != nil {
			return fmt.Errorf("mbox.NewPacker: %w", err)
		}
		count, err := packer.PackTree(t)
		if err != nil {
			return err
		}
		logger.Info("Packing finished", "account", t.Account, "folders", len(t.Folders), "messages", count, "dest", args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
