package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yourorg/dependency-scanner/internal/model"
)

const defaultScanTimeout = 30 * time.Minute

// Archive stores raw scanner reports.
type Archive interface {
	PutReport(ctx context.Context, key string, data []byte) error
}

// TrivyConfig configures the Trivy adapter.
type TrivyConfig struct {
	TrivyPath string
	// BazelPath, if set, is used to build the image tarball before scanning.
	BazelPath    string
	WorkspaceDir string
	// Timeout bounds the whole build+scan of one project.
	Timeout time.Duration
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Trivy scans the image tarball of a Bazel image target with Trivy.
type Trivy struct {
	cfg     TrivyConfig
	archive Archive
	logger  logr.Logger

	//non-pure functions that can be replaced by test doubles
	run     CommandRunner
	timeNow func() time.Time
}

var _ Scanner = (*Trivy)(nil)

// NewTrivy creates a Trivy adapter. archive may be nil.
func NewTrivy(cfg TrivyConfig, archive Archive, logger logr.Logger) *Trivy {
	if cfg.TrivyPath == "" {
		cfg.TrivyPath = "trivy"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultScanTimeout
	}
	return &Trivy{cfg: cfg, archive: archive, logger: logger, run: runCommand, timeNow: time.Now}
}

// OverrideCommandRunner replaces the exec-based command runner.
func (t *Trivy) OverrideCommandRunner(run CommandRunner) *Trivy {
	t.run = run
	return t
}

// ImagePath returns where the image tarball of p is expected after a build.
func (t *Trivy) ImagePath(p model.Project) string {
	return filepath.Join(t.cfg.WorkspaceDir, "bazel-bin", filepath.FromSlash(p.Path), "image.tar")
}

func (t *Trivy) Scan(ctx context.Context, p model.Project) ([]model.RawFinding, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	findings, err := t.scan(ctx, p)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", t.cfg.Timeout, context.DeadlineExceeded)
		}
		return nil, &ScanError{Project: p, Cause: err}
	}
	return findings, nil
}

func (t *Trivy) scan(ctx context.Context, p model.Project) ([]model.RawFinding, error) {
	log := t.logger.WithValues("project", p.Key())

	if t.cfg.BazelPath != "" {
		target := "//" + strings.TrimPrefix(p.Path, "//") + ":image.tar"
		log.V(1).Info("building image", "target", target)
		if _, err := t.run(ctx, t.cfg.WorkspaceDir, t.cfg.BazelPath, "build", target); err != nil {
			return nil, fmt.Errorf("bazel build %s: %w", target, err)
		}
	}

	image := t.ImagePath(p)
	if _, err := os.Stat(image); err != nil {
		return nil, fmt.Errorf("image tarball missing: %w", err)
	}

	args := []string{"image", "--format", "json", "--quiet", "--input", image}
	log.V(1).Info("running trivy", "exec", t.cfg.TrivyPath+" "+strings.Join(args, " "))
	out, err := t.run(ctx, t.cfg.WorkspaceDir, t.cfg.TrivyPath, args...)
	if err != nil {
		return nil, fmt.Errorf("trivy failed: %w", err)
	}

	t.archiveReport(ctx, p, out)

	findings, err := parseTrivyReport(out, p)
	if err != nil {
		return nil, err
	}
	log.Info("scan finished", "findings", len(findings))
	return findings, nil
}

func (t *Trivy) archiveReport(ctx context.Context, p model.Project, data []byte) {
	if t.archive == nil {
		return
	}
	key := ReportKey(p, t.timeNow())
	if err := t.archive.PutReport(ctx, key, data); err != nil {
		t.logger.Error(err, "could not archive scanner report", "project", p.Key(), "key", key)
	}
}

// ReportKey is the object key a raw report of p taken at ts is archived under.
// Keys of one project sort by time.
func ReportKey(p model.Project, ts time.Time) string {
	return ReportPrefix(p) + ts.UTC().Format("20060102T150405Z") + ".json"
}

// ReportPrefix is the common prefix of all archived reports of p.
func ReportPrefix(p model.Project) string {
	return path.Join("reports", sanitize(p.Name), sanitize(p.Path)) + "/"
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, s)
	return strings.Trim(s, "_")
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
