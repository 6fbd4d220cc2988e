package replaycmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/dependency-scanner/internal/app"
	"github.com/yourorg/dependency-scanner/internal/config"
	"github.com/yourorg/dependency-scanner/internal/model"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	var (
		jobType   string
		reposFile string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconcile the latest archived report of every project.",
		Long:  "Reconcile the latest archived Trivy report of every configured project without rebuilding or rescanning. Use this to backfill a new or restored tracking database from the report archive in S3.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), jobType, reposFile)
		},
	}
	cmd.Flags().StringVar(&jobType, "job-type", string(model.ScanJobPeriodic), "job type that notifications are reported under")
	cmd.Flags().StringVar(&reposFile, "repos", "", "repos file (default $REPOS_FILE or repos.yaml)")
	parent.AddCommand(cmd)
}

func run(ctx context.Context, jobTypeName, reposFile string) error {
	app.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	jobType, err := model.ParseScanJobType(jobTypeName)
	if err != nil {
		return err
	}
	if reposFile != "" {
		cfg.ReposFile = reposFile
	}
	rc, err := config.LoadRunConfig(cfg.ReposFile)
	if err != nil {
		return err
	}

	logger, flush, err := app.NewLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer flush()

	ctx, cancel := app.SignalContext(ctx)
	defer cancel()

	p, err := app.Open(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.ConfigureNotifications(rc.NotificationsFor(jobType)); err != nil {
		return err
	}
	replay, err := p.ReplayScanner()
	if err != nil {
		return err
	}

	summary, err := p.Runner(replay).RunScan(ctx, jobType, rc.Repositories)
	if err != nil {
		return err
	}
	logger.Info("replay complete", "ok", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)
	if summary.Failed > 0 {
		return fmt.Errorf("%d projects could not be replayed", summary.Failed)
	}
	return nil
}
