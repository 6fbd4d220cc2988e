package scancmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/dependency-scanner/internal/app"
	"github.com/yourorg/dependency-scanner/internal/config"
	"github.com/yourorg/dependency-scanner/internal/model"
)

type options struct {
	jobType   string
	reposFile string
	dryRun    bool
	interval  time.Duration
}

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	var opts options
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan all configured projects.",
		Long:  "Scan all configured projects once, or repeatedly with --interval. Every project is built, scanned with Trivy, and its findings are reconciled with the tracking store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.jobType, "job-type", string(model.ScanJobPeriodic), "one of merge_request, periodic, release")
	cmd.Flags().StringVar(&opts.reposFile, "repos", "", "repos file (default $REPOS_FILE or repos.yaml)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "track findings in memory instead of PostgreSQL")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "repeat the scan at this interval until interrupted")
	parent.AddCommand(cmd)
}

func run(ctx context.Context, opts options) error {
	app.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	jobType, err := model.ParseScanJobType(opts.jobType)
	if err != nil {
		return err
	}
	if opts.reposFile != "" {
		cfg.ReposFile = opts.reposFile
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

	p, err := app.Open(ctx, cfg, logger, opts.dryRun)
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.ConfigureNotifications(rc.NotificationsFor(jobType)); err != nil {
		return err
	}
	if cfg.HTTPAddr != "" {
		go p.ServeHealth(ctx, cfg.HTTPAddr)
	}

	runner := p.Runner(p.TrivyScanner())
	if opts.interval > 0 {
		return runner.RunEvery(ctx, opts.interval, jobType, rc.Repositories)
	}
	summary, err := runner.RunScan(ctx, jobType, rc.Repositories)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d projects failed", summary.Failed, summary.Failed+summary.Succeeded)
	}
	return nil
}
