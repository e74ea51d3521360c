package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pst-to-mime/stats"
	"github.com/dhcgn/pst-to-mime/tree"
)

var reportHeaders = []string{"From", "To", "Subject"}

var (
	reportDir string
	topN      int
	csvLimit  int
)

var reportCmd = &cobra.Command{
	Use:   "report <accountRoot>",
	Short: "Analyse an extracted account and show header statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := tree.Scan(args[0])
		if err != nil {
			return err
		}
		logger.Info("Analyzing extracted account", "account", t.Account, "folders", len(t.Folders), "messages", t.MessageCount())

		counter, unreadable, err := countHeaders(t, reportHeaders)
		if err != nil {
			return err
		}

		fmt.Printf("Processed %d messages (%d unreadable)\n\n", t.MessageCount()-unreadable, unreadable)
		for _, header := range reportHeaders {
			fmt.Printf("Top %d %s:\n", topN, header)
			stats.PrettyPrintTop(counter[header], topN)
			fmt.Println()
		}

		if err := saveCSVReports(counter, reportHeaders, reportDir, csvLimit); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}
		logger.Info("Reports saved", "dir", reportDir)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	reportCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	reportCmd.Flags().IntVar(&csvLimit, "csv-limit", 1000, "Maximum rows per CSV report")
	rootCmd.AddCommand(reportCmd)
}

// countHeaders counts the decoded values of headers over every message of
// t. Files that cannot be read or parsed are logged and counted as
// unreadable.
func countHeaders(t tree.Tree, headers []string) (map[string]map[string]int, int, error) {
	counter := make(map[string]map[string]int, len(headers))
	for _, h := range headers {
		counter[h] = make(map[string]int)
	}

	unreadable := 0
	for _, folder := range t.Folders {
		for _, file := range folder.Messages {
			raw, err := os.ReadFile(file.Path)
			if err != nil {
				return nil, 0, fmt.Errorf("read %s: %w", file.Path, err)
			}
			header, err := tree.ParseHeader(raw)
			if err != nil {
				logger.Warn("Skipping unreadable message", "path", file.Path, "err", err)
				unreadable++
				continue
			}
			for _, name := range headers {
				value, err := header.Text(name)
				if err != nil {
					value = header.Get(name)
				}
				if value = strings.TrimSpace(value); value != "" {
					counter[name][value]++
				}
			}
		}
	}
	return counter, unreadable, nil
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(header)))
		if err := writeCSVReport(filePath, stats.Top(counter[header], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
