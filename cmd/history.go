package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/e6grab/e6grab/internal/utils"
	"github.com/e6grab/e6grab/pkg/storage"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent grab runs (default 20)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dbPath, _ := cmd.Flags().GetString("dbpath")
		limit, _ := cmd.Flags().GetInt("limit")
		runID, _ := cmd.Flags().GetString("run")
		failedOnly, _ := cmd.Flags().GetBool("failed")

		absPath, err := utils.GetAbsDBPath(dbPath)
		if err != nil {
			return err
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("database not found: %s", absPath)
		}
		db, err := storage.Open(absPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if runID != "" {
			status := ""
			if failedOnly {
				status = "failed"
			}
			return printDownloads(ctx, db, runID, status)
		}

		runs, err := db.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tQUEUED\tDOWNLOADED\tSKIPPED\tFAILED\tSIZE\tROOT\t")
		for _, r := range runs {
			started := humanize.Time(r.StartedAt)
			if r.FinishedAt.IsZero() {
				started += " (unfinished)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t\n",
				r.ID, started, r.Queued, r.Downloaded, r.Skipped, r.Failed, humanize.Bytes(uint64(r.Bytes)), r.Root)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d run%s, %s post%s downloaded (%s), %d failed.\n",
			stats.Runs, utils.Plural(stats.Runs), humanize.Comma(int64(stats.Downloaded)), utils.Plural(stats.Downloaded),
			humanize.Bytes(uint64(stats.Bytes)), stats.Failed)
		return nil
	},
}

func printDownloads(ctx context.Context, db *storage.DB, runID, status string) error {
	downloads, err := db.ListDownloads(ctx, runID, status)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		ts := d.OccurredAt.Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("%s  %-10s  %d  %s", ts, d.Status, d.ItemID, d.Path)
		if d.Error != "" {
			line += "  " + d.Error
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/e6grab/history.sqlite)")
	historyCmd.Flags().Int("limit", 20, "Number of recent runs to show")
	historyCmd.Flags().String("run", "", "Show the downloads of a single run")
	historyCmd.Flags().Bool("failed", false, "With --run, only show failed downloads")
}
