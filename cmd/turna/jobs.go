package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/output"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect backend jobs",
	}

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			job, err := a.client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.out.Print(job, func() output.Table { return jobTable([]models.Job{*job}) })
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			jobType, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")
			list, err := a.client.ListJobs(cmd.Context(), jobType, limit)
			if err != nil {
				return err
			}
			return a.out.Print(list, func() output.Table { return jobTable(list) })
		},
	}
	list.Flags().String("type", models.JobTypeExtract, "job type")
	list.Flags().Int("limit", 20, "maximum number of jobs")

	watch := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it finishes",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return watchJob(cmd, a, args[0])
		},
	}
	watch.Flags().Duration("poll-interval", 0, "job status polling interval")

	cmd.AddCommand(get, list, watch)
	return cmd
}

func jobTable(list []models.Job) output.Table {
	t := output.Table{Headers: []string{"ID", "TYPE", "STATUS", "UPDATED", "ERROR"}}
	for _, j := range list {
		t.Rows = append(t.Rows, []string{
			j.ID,
			j.Type,
			string(j.Status),
			j.UpdatedAt.Local().Format(time.DateTime),
			output.Dash(j.Error),
		})
	}
	return t
}

// watchJob prints every status change until the job is terminal.
func watchJob(cmd *cobra.Command, a *app, jobID string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	poller := jobs.NewPoller(a.client, a.cfg.Processing.PollInterval, a.logger)
	defer poller.Stop()

	done := make(chan models.JobUpdate, 1)
	var last models.JobStatus
	poller.Watch(jobID, func(up models.JobUpdate) {
		if up.Status != last {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s\n", time.Now().Format(time.TimeOnly), up.Status)
			last = up.Status
		}
		if up.Status.IsTerminal() {
			done <- up
		}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case up := <-done:
		if up.Err != nil {
			return up.Err
		}
		if err := a.out.Print(up.Job, func() output.Table { return jobTable([]models.Job{*up.Job}) }); err != nil {
			return err
		}
		if up.Status == models.JobStatusFailed {
			return fmt.Errorf("job %s failed", jobID)
		}
		return nil
	}
}
