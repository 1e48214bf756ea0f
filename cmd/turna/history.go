package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/output"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent upload and extraction outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newOfflineApp(cmd)
			if err != nil {
				return err
			}
			store := a.openHistory()
			if store == nil {
				return fmt.Errorf("history store %s could not be opened", a.cfg.Storage.HistoryPath)
			}
			defer store.Close()

			if stats, _ := cmd.Flags().GetBool("stats"); stats {
				counts, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return a.out.Print(counts, func() output.Table {
					keys := make([]string, 0, len(counts))
					for k := range counts {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					t := output.Table{Headers: []string{"OUTCOME", "COUNT"}}
					for _, k := range keys {
						t.Rows = append(t.Rows, []string{k, strconv.Itoa(counts[k])})
					}
					return t
				})
			}

			limit, _ := cmd.Flags().GetInt("limit")
			events, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.out.Print(events, func() output.Table {
				t := output.Table{Headers: []string{"TIME", "STAGE", "FILE", "FILE ID", "JOB", "OUTCOME", "ERROR"}}
				for _, ev := range events {
					t.Rows = append(t.Rows, []string{
						ev.RecordedAt.Local().Format(time.DateTime),
						string(ev.Stage),
						output.Dash(ev.FileName),
						output.Dash(ev.FileID),
						output.Dash(ev.JobID),
						ev.Outcome,
						output.Dash(ev.Error),
					})
				}
				return t
			})
		},
	}
	cmd.Flags().Int("limit", 50, "number of events")
	cmd.Flags().Bool("stats", false, "show counts per outcome instead")
	cmd.Flags().String("data-dir", "", "directory holding the history database")
	return cmd
}
