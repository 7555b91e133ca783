package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of pgx used by PostgresStore.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS resolution_runs (
	id           UUID PRIMARY KEY,
	file_name    TEXT NOT NULL,
	query_column TEXT NOT NULL,
	status       TEXT NOT NULL,
	total        INTEGER NOT NULL DEFAULT 0,
	completed    INTEGER NOT NULL DEFAULT 0,
	success      INTEGER NOT NULL DEFAULT 0,
	not_found    INTEGER NOT NULL DEFAULT 0,
	errors       INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	artifact_key TEXT,
	error        TEXT,
	client_ip    TEXT,
	user_agent   TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS resolution_runs_started_at_idx ON resolution_runs (started_at DESC);
`

const selectColumns = `id, file_name, query_column, status, total, completed, success,
	not_found, errors, skipped, artifact_key, error, client_ip, user_agent, started_at, duration_ms`

// PostgresStore keeps run records in the resolution_runs table.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore wraps db. Call EnsureSchema once at startup.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table and index if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "create resolution_runs")
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return errors.Wrapf(err, "history: invalid run id %q", r.ID)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO resolution_runs (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			completed = EXCLUDED.completed,
			success = EXCLUDED.success,
			not_found = EXCLUDED.not_found,
			errors = EXCLUDED.errors,
			skipped = EXCLUDED.skipped,
			artifact_key = EXCLUDED.artifact_key,
			error = EXCLUDED.error,
			duration_ms = EXCLUDED.duration_ms`,
		pgtype.UUID{Bytes: id, Valid: true},
		r.FileName,
		r.QueryColumn,
		r.Status,
		r.Total,
		r.Completed,
		r.Success,
		r.NotFound,
		r.Errors,
		r.Skipped,
		optionalText(r.ArtifactKey),
		optionalText(r.Error),
		optionalText(r.ClientIP),
		optionalText(r.UserAgent),
		r.StartedAt,
		r.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrapf(err, "save run %s", r.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}

	row := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM resolution_runs WHERE id = $1`,
		pgtype.UUID{Bytes: parsed, Valid: true},
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM resolution_runs ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return records, nil
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM resolution_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge runs")
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id          pgtype.UUID
		artifactKey pgtype.Text
		errText     pgtype.Text
		clientIP    pgtype.Text
		userAgent   pgtype.Text
		startedAt   pgtype.Timestamptz
		durationMs  int64
		r           Record
	)

	err := row.Scan(
		&id, &r.FileName, &r.QueryColumn, &r.Status,
		&r.Total, &r.Completed, &r.Success, &r.NotFound, &r.Errors, &r.Skipped,
		&artifactKey, &errText, &clientIP, &userAgent, &startedAt, &durationMs,
	)
	if err != nil {
		return Record{}, err
	}

	if id.Valid {
		r.ID = uuid.UUID(id.Bytes).String()
	}
	r.ArtifactKey = artifactKey.String
	r.Error = errText.String
	r.ClientIP = clientIP.String
	r.UserAgent = userAgent.String
	r.StartedAt = startedAt.Time
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
