package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/turna/console/internal/jobs"
	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/output"
	"github.com/turna/console/internal/upload"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files one at a time, optionally extracting each",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			hospital, _ := cmd.Flags().GetString("hospital")
			return runUpload(cmd, a, args, hospital)
		},
	}

	cmd.Flags().Bool("extract", false, "create an extraction job after every upload and wait for it")
	cmd.Flags().String("hospital", "", "hospital id to associate the files with")
	cmd.Flags().Duration("poll-interval", 0, "job status polling interval")
	cmd.Flags().String("data-dir", "", "directory for the history database")
	return cmd
}

func localFiles(paths []string, hospitalID string) ([]models.LocalFile, error) {
	files := make([]models.LocalFile, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		files = append(files, models.LocalFile{
			Name:         filepath.Base(p),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			Path:         p,
			HospitalID:   hospitalID,
		})
	}
	return files, nil
}

func runUpload(cmd *cobra.Command, a *app, paths []string, hospitalID string) error {
	files, err := localFiles(paths, hospitalID)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	poller := jobs.NewPoller(a.client, a.cfg.Processing.PollInterval, a.logger)
	defer poller.Stop()

	opts := upload.Options{AutoExtract: a.cfg.Processing.AutoExtract, Logger: a.logger}
	if store := a.openHistory(); store != nil {
		defer store.Close()
		opts.Recorder = store
	}

	queue := upload.NewQueue(poller)
	if skipped := len(files) - queue.AddFiles(files); skipped > 0 {
		a.logger.Info().Int("skipped", skipped).Msg("duplicate paths ignored")
	}

	uploader := upload.NewUploader(queue, a.client, poller, opts)
	res, _ := uploader.Process(ctx)

	if uploader.AutoExtract() {
		waitForJobs(ctx, poller)
	}

	pending := queue.Snapshot()
	err = a.out.Print(map[string]interface{}{
		"uploaded": res.Uploaded,
		"failed":   res.Failed,
		"pending":  pending,
	}, func() output.Table {
		t := output.Table{Headers: []string{"FILE", "SIZE", "FILE ID", "JOB", "STATUS", "ERROR"}}
		for _, p := range pending {
			t.Rows = append(t.Rows, []string{
				p.File.Name,
				fmt.Sprint(p.File.Size),
				output.Dash(p.FileID),
				output.Dash(p.JobID),
				output.Dash(string(p.JobStatus)),
				output.Dash(p.Error),
			})
		}
		return t
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d uploaded, %d failed, %d still pending\n", res.Uploaded, res.Failed, len(pending))
	if res.Failed > 0 || len(pending) > 0 {
		return fmt.Errorf("%d of %d files did not finish", len(pending), len(files))
	}
	return nil
}

// waitForJobs blocks until no job is watched or ctx ends.
func waitForJobs(ctx context.Context, poller *jobs.Poller) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for len(poller.Active()) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
