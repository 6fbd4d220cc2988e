package scanner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/dependency-scanner/internal/model"
)

var guestos = model.Project{
	Name: "guestos",
	Path: "ic/ic-os/guestos/prod",
	Link: "https://gitlab.com/dfinity-lab/public/ic/-/tree/master/ic-os/guestos/rootfs",
}

type recordingArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *recordingArchive) PutReport(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return a.err
}

// newWorkspace creates a temporary workspace containing the image tarball of p.
func newWorkspace(t *testing.T, p model.Project) string {
	t.Helper()
	dir := t.TempDir()
	image := filepath.Join(dir, "bazel-bin", filepath.FromSlash(p.Path), "image.tar")
	require.NoError(t, os.MkdirAll(filepath.Dir(image), 0o755))
	require.NoError(t, os.WriteFile(image, []byte("tar"), 0o644))
	return dir
}

func TestParseTrivyReport(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "trivy_output.json"))
	require.NoError(t, err)

	findings, err := parseTrivyReport(data, guestos)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "CVE-2022-3715", findings[0].VulnerabilityID)
	assert.Equal(t, model.SeverityLow, findings[0].Severity)
	assert.False(t, findings[0].FixIsReleased())
	assert.Equal(t, "https://avd.aquasec.com/nvd/cve-2022-3715", findings[0].URL)
	assert.Equal(t, guestos, findings[0].Project)

	assert.Equal(t, "libssl1.1", findings[1].Package)
	assert.Equal(t, "1.1.1f-1ubuntu2.17", findings[1].FixedVersion)
	assert.Equal(t, "CVE-2023-0286", findings[1].Title)
	assert.Equal(t, "https://ubuntu.com/security/CVE-2023-0286", findings[1].URL)
}

func TestParseTrivyReportRejectsGarbage(t *testing.T) {
	_, err := parseTrivyReport([]byte("FATAL: no such image"), guestos)
	assert.Error(t, err)
}

func TestTrivyScanBuildsThenScans(t *testing.T) {
	report, err := os.ReadFile(filepath.Join("testdata", "trivy_output.json"))
	require.NoError(t, err)
	workspace := newWorkspace(t, guestos)
	archive := &recordingArchive{}

	var commands [][]string
	tr := NewTrivy(TrivyConfig{TrivyPath: "trivy", BazelPath: "bazel", WorkspaceDir: workspace}, archive, testr.New(t)).
		OverrideCommandRunner(func(_ context.Context, dir, name string, args ...string) ([]byte, error) {
			assert.Equal(t, workspace, dir)
			commands = append(commands, append([]string{name}, args...))
			if name == "trivy" {
				return report, nil
			}
			return nil, nil
		})
	tr.timeNow = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	findings, err := tr.Scan(context.Background(), guestos)
	require.NoError(t, err)
	assert.Len(t, findings, 2)

	require.Len(t, commands, 2)
	assert.Equal(t, []string{"bazel", "build", "//ic/ic-os/guestos/prod:image.tar"}, commands[0])
	assert.Equal(t, []string{"trivy", "image", "--format", "json", "--quiet", "--input", tr.ImagePath(guestos)}, commands[1])
	assert.Equal(t, []string{"reports/guestos/ic_ic-os_guestos_prod/20260304T050607Z.json"}, archive.keys)
}

func TestTrivyScanArchiveFailureIsNotFatal(t *testing.T) {
	workspace := newWorkspace(t, guestos)
	archive := &recordingArchive{err: errors.New("bucket does not exist")}
	tr := NewTrivy(TrivyConfig{WorkspaceDir: workspace}, archive, testr.New(t)).
		OverrideCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			return []byte(`{"Results": []}`), nil
		})

	findings, err := tr.Scan(context.Background(), guestos)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Len(t, archive.keys, 1)
}

func TestTrivyScanMissingImage(t *testing.T) {
	tr := NewTrivy(TrivyConfig{WorkspaceDir: t.TempDir()}, nil, testr.New(t)).
		OverrideCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			t.Fatal("trivy must not run without an image")
			return nil, nil
		})

	_, err := tr.Scan(context.Background(), guestos)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, guestos, scanErr.Project)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTrivyScanToolCrash(t *testing.T) {
	workspace := newWorkspace(t, guestos)
	crash := errors.New("exit status 2")
	tr := NewTrivy(TrivyConfig{WorkspaceDir: workspace}, nil, testr.New(t)).
		OverrideCommandRunner(func(context.Context, string, string, ...string) ([]byte, error) {
			return nil, crash
		})

	_, err := tr.Scan(context.Background(), guestos)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.ErrorIs(t, err, crash)
	assert.Contains(t, err.Error(), "guestos@ic/ic-os/guestos/prod")
}

func TestTrivyScanTimeout(t *testing.T) {
	workspace := newWorkspace(t, guestos)
	tr := NewTrivy(TrivyConfig{WorkspaceDir: workspace, Timeout: 20 * time.Millisecond}, nil, testr.New(t)).
		OverrideCommandRunner(func(ctx context.Context, _, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := tr.Scan(context.Background(), guestos)
	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after 20ms")
}

func TestRunCommandReportsStderr(t *testing.T) {
	_, err := runCommand(context.Background(), "", "sh", "-c", "echo boom >&2; exit 3")
	if errors.Is(err, exec.ErrNotFound) {
		t.Skip("sh not available")
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
