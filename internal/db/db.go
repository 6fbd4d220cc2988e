package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/tracker"
)

// Store is the PostgreSQL-backed tracking store. Tickets are rows in
// tracked_findings; a ticket is closed when its row reaches status CLOSED.
type Store struct{ Pool *pgxpool.Pool }

var _ tracker.Store = (*Store)(nil)

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) notifyFindingChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('finding_events', $1)`, id)
}

const findingColumns = `
	id::text, fingerprint, project_key, vulnerability_id, package,
	installed_version, fixed_version, severity, status,
	first_seen, last_seen, ticket_id`

func scanFinding(row pgx.Row) (model.TrackedFinding, error) {
	var (
		f        model.TrackedFinding
		severity string
		status   string
	)
	err := row.Scan(
		&f.ID, &f.Fingerprint, &f.ProjectKey, &f.VulnerabilityID, &f.Package,
		&f.InstalledVersion, &f.FixedVersion, &severity, &status,
		&f.FirstSeen, &f.LastSeen, &f.TicketID,
	)
	f.Severity = model.Severity(severity)
	f.Status = model.Status(status)
	return f, err
}

func (s *Store) FindByFingerprint(ctx context.Context, fp string) (*model.TrackedFinding, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+findingColumns+`
		FROM tracked_findings
		WHERE fingerprint=$1 AND status <> 'CLOSED'
	`, fp)
	f, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (s *Store) ListActive(ctx context.Context, projectKey string) ([]model.TrackedFinding, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+findingColumns+`
		FROM tracked_findings
		WHERE project_key=$1 AND status <> 'CLOSED'
		ORDER BY fingerprint
	`, projectKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TrackedFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a new tracked finding. For a fingerprint that is still
// active the existing row is returned unchanged; the no-op DO UPDATE only
// makes RETURNING yield it. xmax is 0 exactly for freshly inserted rows.
func (s *Store) Create(ctx context.Context, f model.TrackedFinding) (model.TrackedFinding, bool, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO tracked_findings (
		  id, fingerprint, project_key, vulnerability_id, package,
		  installed_version, fixed_version, severity, status,
		  first_seen, last_seen, ticket_id
		)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) WHERE status <> 'CLOSED'
		DO UPDATE SET fingerprint = tracked_findings.fingerprint
		RETURNING `+findingColumns+`, (xmax = 0) AS inserted
	`, f.ID, f.Fingerprint, f.ProjectKey, f.VulnerabilityID, f.Package,
		f.InstalledVersion, f.FixedVersion, string(f.Severity), string(f.Status),
		f.FirstSeen, f.LastSeen, "DEPSCAN-"+f.ID,
	)
	var (
		stored   model.TrackedFinding
		severity string
		status   string
		inserted bool
	)
	err := row.Scan(
		&stored.ID, &stored.Fingerprint, &stored.ProjectKey, &stored.VulnerabilityID, &stored.Package,
		&stored.InstalledVersion, &stored.FixedVersion, &severity, &status,
		&stored.FirstSeen, &stored.LastSeen, &stored.TicketID, &inserted,
	)
	if err != nil {
		return model.TrackedFinding{}, false, err
	}
	stored.Severity = model.Severity(severity)
	stored.Status = model.Status(status)
	if inserted {
		s.notifyFindingChanged(ctx, stored.ID)
	}
	return stored, inserted, nil
}

func (s *Store) Update(ctx context.Context, f model.TrackedFinding) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tracked_findings
		SET installed_version=$2,
		    fixed_version=$3,
		    severity=$4,
		    status=$5,
		    last_seen=GREATEST(last_seen, $6)
		WHERE id=$1::uuid
		  AND status <> 'CLOSED'
	`, f.ID, f.InstalledVersion, f.FixedVersion, string(f.Severity), string(f.Status), f.LastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	s.notifyFindingChanged(ctx, f.ID)
	return nil
}

func (s *Store) Close(ctx context.Context, f model.TrackedFinding) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tracked_findings
		SET status='CLOSED', closed_at=now()
		WHERE id=$1::uuid
		  AND status <> 'CLOSED'
	`, f.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		s.notifyFindingChanged(ctx, f.ID)
		return nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tracked_findings WHERE id=$1::uuid)`, f.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return tracker.ErrNotFound
	}
	return nil
}

// RecordRun stores the summary of a finished scan run for auditing.
func (s *Store) RecordRun(ctx context.Context, summary model.ScanRunSummary) error {
	failed := make([]string, 0, summary.Failed)
	for _, p := range summary.FailedProjects() {
		failed = append(failed, p.Key())
	}
	failedJSON, _ := json.Marshal(failed)
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO scan_runs (
		  id, job_type, started_at, finished_at, succeeded, failed, skipped,
		  events_raised, cancelled, failed_projects
		)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, summary.RunID, string(summary.JobType), summary.StartedAt, summary.FinishedAt,
		summary.Succeeded, summary.Failed, summary.Skipped, summary.EventsRaised,
		summary.Cancelled, string(failedJSON))
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// IsInsufficientPrivilege reports whether err is PostgreSQL's
// insufficient_privilege, which EnsureSchema hits on read-mostly roles.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tracked_findings (
  id UUID PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  project_key TEXT NOT NULL,
  vulnerability_id TEXT NOT NULL,
  package TEXT NOT NULL,
  installed_version TEXT NOT NULL DEFAULT '',
  fixed_version TEXT NOT NULL DEFAULT '',
  severity TEXT NOT NULL DEFAULT 'UNKNOWN',
  status TEXT NOT NULL CHECK (status IN ('NEW','OPEN','RISK_ASSESSED','PATCH_AVAILABLE','CLOSED')),
  first_seen TIMESTAMPTZ NOT NULL,
  last_seen TIMESTAMPTZ NOT NULL,
  closed_at TIMESTAMPTZ,
  ticket_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tracked_findings_active_fingerprint
  ON tracked_findings (fingerprint) WHERE status <> 'CLOSED';
CREATE INDEX IF NOT EXISTS idx_tracked_findings_project_status
  ON tracked_findings (project_key, status);

CREATE TABLE IF NOT EXISTS scan_runs (
  id UUID PRIMARY KEY,
  job_type TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  succeeded INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  skipped INTEGER NOT NULL,
  events_raised INTEGER NOT NULL,
  cancelled BOOLEAN NOT NULL DEFAULT FALSE,
  failed_projects JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_job_type_started ON scan_runs (job_type, started_at);
`)
	return err
}
