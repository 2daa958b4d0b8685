package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/localrivet/summaryservice/internal/history"
)

var (
	historyLimit int
	clearYes     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored summaries",
}

var historyRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent summaries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Recent(historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tMODEL\tRATIO\tSUMMARY")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
				rec.ID, rec.CreatedAt.Local().Format(time.DateTime), rec.Model, rec.CompressionRatio, preview(rec.Summary, 60))
		}
		return w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearYes {
			return errors.New("refusing to clear history without --yes")
		}
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Clear()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d summaries\n", n)
		return nil
	},
}

func init() {
	historyRecentCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultRecentLimit, "number of summaries to show")
	historyClearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")
	historyCmd.AddCommand(historyRecentCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (history.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.New("summary history is disabled in the configuration")
	}
	store := history.NewSQLiteStore()
	if err := store.Initialize(cfg.History.SQLitePath); err != nil {
		return nil, err
	}
	return store, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
