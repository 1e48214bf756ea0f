package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/listing"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/output"
)

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List, delete and extract uploaded files",
	}
	cmd.AddCommand(filesListCmd())
	cmd.AddCommand(filesDeleteCmd())
	cmd.AddCommand(filesExtractCmd())
	return cmd
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "created on or before (YYYY-MM-DD)")
	cmd.Flags().String("hospital", "", "hospital id")
	cmd.Flags().String("search", "", "free-text search")
}

func filterFromFlags(cmd *cobra.Command) listing.Filter {
	var f listing.Filter
	f.StartAt, _ = cmd.Flags().GetString("start")
	f.EndAt, _ = cmd.Flags().GetString("end")
	f.HospitalID, _ = cmd.Flags().GetString("hospital")
	f.Search, _ = cmd.Flags().GetString("search")
	return f
}

func fileTable(items []models.FileRecord) output.Table {
	t := output.Table{Headers: []string{"ID", "FILENAME", "SIZE", "HOSPITAL", "JOB STATUS", "CREATED"}}
	for _, f := range items {
		hospital, status := "-", "-"
		if f.HospitalID != nil {
			hospital = *f.HospitalID
		}
		if f.JobStatus != nil {
			status = string(*f.JobStatus)
		}
		t.Rows = append(t.Rows, []string{
			f.ID,
			f.Filename,
			strconv.FormatInt(f.Size, 10),
			hospital,
			status,
			f.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return t
}

func filesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = a.cfg.Processing.PageSize
			}
			offset, _ := cmd.Flags().GetInt("offset")
			all, _ := cmd.Flags().GetBool("all")

			ctrl := listing.NewFileController(limit)
			if _, err := ctrl.SetFilter(filterFromFlags(cmd)); err != nil {
				return err
			}
			ctrl.SetOffset(offset)

			var items []models.FileRecord
			for {
				page, err := ctrl.Load(cmd.Context(), a.client.ListFiles)
				if err != nil {
					return err
				}
				items = append(items, page.Items...)
				if !all || !ctrl.Next() {
					break
				}
			}

			p := ctrl.Page()
			if !all {
				fmt.Fprintf(cmd.ErrOrStderr(), "showing %d-%d of %d\n", p.Offset+min(1, len(items)), p.Offset+len(items), ctrl.Total())
			}
			return a.out.Print(items, func() output.Table { return fileTable(items) })
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().Int("limit", 0, "page size")
	cmd.Flags().Int("offset", 0, "page offset")
	cmd.Flags().Bool("all", false, "fetch every page")
	return cmd
}

func filesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [id]...",
		Short: "Delete files by id, or every file matching a filter with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			exclude, _ := cmd.Flags().GetStringSlice("exclude")

			ctrl := listing.NewFileController(listing.MaxLimit)
			if _, err := ctrl.SetFilter(filterFromFlags(cmd)); err != nil {
				return err
			}

			var res listing.BulkResult
			switch {
			case all:
				ctrl.SelectAll()
				for _, id := range exclude {
					ctrl.Toggle(id)
				}
				res, err = ctrl.DeleteSelected(cmd.Context(), a.client.ListFiles, a.client.DeleteFile)
				if err != nil {
					return err
				}
			case len(args) > 0:
				res = ctrl.BulkDelete(cmd.Context(), args, a.client.DeleteFile)
			default:
				return fmt.Errorf("pass file ids or --all")
			}

			if err := a.out.Print(res, func() output.Table {
				return output.Table{
					Headers: []string{"DELETED", "FAILED"},
					Rows:    [][]string{{strconv.Itoa(res.Deleted), strconv.Itoa(res.Failed)}},
				}
			}); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d deletes failed", res.Failed)
			}
			return nil
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().Bool("all", false, "delete every file matching the filter")
	cmd.Flags().StringSlice("exclude", nil, "ids to keep when using --all")
	return cmd
}

func filesExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file-id>",
		Short: "Create an extraction job for an uploaded file",
		Args:  exactArgs(1, "a file id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			job, err := a.client.CreateExtractJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if wait, _ := cmd.Flags().GetBool("wait"); wait {
				return watchJob(cmd, a, job.ID)
			}
			return a.out.Print(job, func() output.Table { return jobTable([]models.Job{*job}) })
		},
	}
	cmd.Flags().Bool("wait", false, "poll the job until it finishes")
	return cmd
}
