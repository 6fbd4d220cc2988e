// Package app wires the scanner's components together for the commands in
// cmd/.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/dependency-scanner/internal/config"
	"github.com/yourorg/dependency-scanner/internal/datasource"
	"github.com/yourorg/dependency-scanner/internal/db"
	"github.com/yourorg/dependency-scanner/internal/notify"
	"github.com/yourorg/dependency-scanner/internal/retry"
	"github.com/yourorg/dependency-scanner/internal/s3"
	"github.com/yourorg/dependency-scanner/internal/scanner"
	"github.com/yourorg/dependency-scanner/internal/tracker"
	"github.com/yourorg/dependency-scanner/internal/worker"
)

// LoadEnv loads .env files if present. This helps local dev.
func LoadEnv() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// NewLogger returns a JSON logger backed by zap. Call the returned function
// before exiting to flush it.
func NewLogger(debug bool) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zl, err := zc.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl).WithName("depscan"), func() { _ = zl.Sync() }, nil
}

// Pipeline holds the long-lived collaborators of a scan run.
type Pipeline struct {
	Config config.Config
	Logger logr.Logger
	Store  tracker.Store
	Bus    *notify.Bus

	db      *db.Store
	archive *s3.Client
}

// Open connects to PostgreSQL and S3 as configured. With dryRun, findings
// are tracked in memory and nothing is persisted.
func Open(ctx context.Context, cfg config.Config, logger logr.Logger, dryRun bool) (*Pipeline, error) {
	p := &Pipeline{Config: cfg, Logger: logger, Bus: notify.NewBus(logger.WithName("notifier"))}

	if dryRun {
		logger.Info("dry run: findings are tracked in memory only")
		p.Store = tracker.NewMemoryStore()
	} else {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		store, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("cannot open database: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Pool.Close()
			return nil, fmt.Errorf("cannot reach database: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			if !db.IsInsufficientPrivilege(err) {
				store.Pool.Close()
				return nil, fmt.Errorf("cannot create schema: %w", err)
			}
			logger.Info("ensure schema skipped due to insufficient privilege", "error", err.Error())
		}
		p.db = store
		p.Store = tracker.NewRetrying(store, retry.Default, logger.WithName("tracker"))
	}

	if cfg.ArchiveEnabled() {
		archive, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3Region, cfg.ReportsBucket)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("cannot create S3 client: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("cannot prepare bucket %s: %w", cfg.ReportsBucket, err)
		}
		p.archive = archive
	}
	return p, nil
}

func (p *Pipeline) Close() {
	if p.db != nil {
		p.db.Pool.Close()
	}
}

// ConfigureNotifications installs n and registers the console subscribers,
// plus the Slack notifier when a webhook is configured.
func (p *Pipeline) ConfigureNotifications(n notify.Config) error {
	if err := p.Bus.Configure(n); err != nil {
		return err
	}
	subs := []notify.Subscriber{
		notify.NewScannerLogger(p.Logger),
		notify.NewFindingLogger(p.Logger),
	}
	if p.Config.SlackWebhookURL != "" {
		slack := notify.NewSlackWebhook(p.Config.SlackWebhookURL, 0, retry.Default, p.Logger)
		subs = append(subs, notify.NewChatNotifier(slack))
	}
	for _, s := range subs {
		if err := p.Bus.Subscribe(s); err != nil {
			return err
		}
	}
	return nil
}

// TrivyScanner returns the scanner that builds and scans images.
func (p *Pipeline) TrivyScanner() scanner.Scanner {
	var archive scanner.Archive
	if p.archive != nil {
		archive = p.archive
	}
	return scanner.NewTrivy(scanner.TrivyConfig{
		TrivyPath:    p.Config.TrivyPath,
		BazelPath:    p.Config.BazelPath,
		WorkspaceDir: p.Config.WorkspaceDir,
		Timeout:      p.Config.ScanTimeout,
	}, archive, p.Logger.WithName("trivy"))
}

// ReplayScanner returns a scanner that reads archived reports. It needs S3.
func (p *Pipeline) ReplayScanner() (scanner.Scanner, error) {
	if p.archive == nil {
		return nil, fmt.Errorf("replaying reports requires S3_ENDPOINT")
	}
	return scanner.NewReplay(p.archive, p.Logger.WithName("replay")), nil
}

// Runner builds the orchestrator around sc.
func (p *Pipeline) Runner(sc scanner.Scanner) *worker.Runner {
	ds := datasource.New(p.Store, p.Logger.WithName("findings")).
		WithRiskAssessmentThreshold(p.Config.RiskAssessmentSeverity)
	r := worker.NewRunner(sc, ds, p.Bus, p.Config.WorkerConcurrency, p.Logger)
	if p.db != nil {
		r.WithRunRecorder(p.db)
	}
	return r
}

// ServeHealth serves /healthz and /metrics on addr until ctx is done.
func (p *Pipeline) ServeHealth(ctx context.Context, addr string) {
	var ping func(context.Context) error
	if p.db != nil {
		ping = p.db.Ping
	}
	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthHandler(ping, p.Logger))
	mux.Handle("/metrics", promhttp.Handler())

	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
	}()
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		p.Logger.Error(err, "health server failed", "addr", addr)
	}
}

// HealthHandler checks database connectivity with a 2s timeout and returns
// 503 if it is unreachable. A nil ping is always healthy.
func HealthHandler(ping func(context.Context) error, logger logr.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				logger.Error(err, "healthz: db ping failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}
