package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/castdrop/internal/bootstrap"
	"github.com/maauso/castdrop/internal/config"
	"github.com/maauso/castdrop/internal/lease"
	"github.com/maauso/castdrop/internal/storage"
	"github.com/maauso/castdrop/internal/sweep"
)

// sweepReport is the JSON form of a sweep.Report.
type sweepReport struct {
	Scanned        int     `json:"scanned"`
	Expired        int     `json:"expired"`
	Deleted        int     `json:"deleted"`
	Failed         int     `json:"failed"`
	AbortedUploads int     `json:"aborted_uploads"`
	DurationSec    float64 `json:"duration_sec"`
	DryRun         bool    `json:"dry_run"`
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		dryRun    bool
		retention time.Duration
	)

	cmd := &cobra.Command{
		Use:           "castdrop-sweep",
		Short:         "Delete stored videos and chunks older than the retention window",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention <= 0 {
				return errors.New("--retention must be positive")
			}

			logger := cfg.NewLogger()
			store, err := bootstrap.NewStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			locker, closeLocker, err := bootstrap.NewLocker(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeLocker() }()

			return runSweep(cmd, store, locker, logger, retention, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().DurationVar(&retention, "retention", cfg.Retention, "delete objects older than this")
	return cmd
}

func runSweep(cmd *cobra.Command, store storage.BlobStore, locker lease.Locker, logger *slog.Logger, retention time.Duration, dryRun bool) error {
	ctx := cmd.Context()

	release, err := locker.Acquire(ctx, "sweep", time.Hour)
	if errors.Is(err, lease.ErrHeld) {
		logger.Info("another sweep is running, nothing to do")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire sweep lease: %w", err)
	}
	defer release()

	sw := sweep.New(store, retention, logger, sweep.WithDryRun(dryRun))
	report, err := sw.Run(ctx)
	if werr := writeReport(cmd.OutOrStdout(), report, dryRun); werr != nil {
		return werr
	}
	return err
}

func writeReport(w io.Writer, r sweep.Report, dryRun bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sweepReport{
		Scanned:        r.Scanned,
		Expired:        r.Expired,
		Deleted:        r.Deleted,
		Failed:         r.Failed,
		AbortedUploads: r.AbortedUploads,
		DurationSec:    r.Duration.Seconds(),
		DryRun:         dryRun,
	})
}
