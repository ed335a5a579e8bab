package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daap14/pagelease/internal/database"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new Repository backed by the given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// allColumns is the ordered list of columns scanned from the deployments table.
const allColumns = `id, fingerprint, repo_name, pages_url, status, tier, notify_email,
	created_at, updated_at, expires_at, archived_at, deleted_at, last_extended_at, reminded_at`

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var d Deployment
	err := row.Scan(
		&d.ID, &d.Fingerprint, &d.RepoName, &d.PagesURL, &d.Status, &d.Tier, &d.NotifyEmail,
		&d.CreatedAt, &d.UpdatedAt, &d.ExpiresAt, &d.ArchivedAt, &d.DeletedAt, &d.LastExtendedAt, &d.RemindedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresRepository) queryList(ctx context.Context, query string, args ...any) ([]Deployment, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment row: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment rows: %w", err)
	}
	return out, nil
}

// Create inserts a deployment. A positive activeLimit is enforced under a
// per-fingerprint advisory lock so concurrent publishes cannot both slip
// under the cap.
func (r *PostgresRepository) Create(ctx context.Context, d *Deployment, activeLimit int) error {
	return database.InTx(ctx, r.pool, func(ctx context.Context) error {
		conn := database.Conn(ctx, r.pool)

		if activeLimit > 0 {
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, d.Fingerprint); err != nil {
				return fmt.Errorf("locking fingerprint: %w", err)
			}
		}

		tag, err := conn.Exec(ctx, `
			INSERT INTO deployments (id, fingerprint, repo_name, pages_url, status, tier, notify_email,
				created_at, updated_at, expires_at)
			SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text,
				$8::timestamptz, $8::timestamptz, $9::timestamptz
			WHERE $10::int <= 0
				OR (SELECT count(*) FROM deployments WHERE fingerprint = $2 AND status = 'active') < $10::int`,
			d.ID, d.Fingerprint, d.RepoName, d.PagesURL, d.Status, d.Tier, d.NotifyEmail,
			d.CreatedAt, d.ExpiresAt, activeLimit,
		)
		if err != nil {
			return fmt.Errorf("inserting deployment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrQuotaExceeded
		}
		d.UpdatedAt = d.CreatedAt
		return nil
	})
}

// GetByID retrieves a single deployment by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	query := fmt.Sprintf(`SELECT %s FROM deployments WHERE id = $1`, allColumns)
	d, err := scanDeployment(database.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning deployment row: %w", err)
	}
	return d, nil
}

// ListByFingerprint returns a fingerprint's deployments, newest first.
func (r *PostgresRepository) ListByFingerprint(ctx context.Context, fingerprint string, includeDeleted bool) ([]Deployment, error) {
	query := fmt.Sprintf(`SELECT %s FROM deployments
		WHERE fingerprint = $1 AND ($2 OR status <> 'deleted')
		ORDER BY created_at DESC, id`, allColumns)
	return r.queryList(ctx, query, fingerprint, includeDeleted)
}

// CountByStatus counts a fingerprint's deployments per status.
func (r *PostgresRepository) CountByStatus(ctx context.Context, fingerprint string) (Usage, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT status, count(*) FROM deployments WHERE fingerprint = $1 GROUP BY status`, fingerprint)
	if err != nil {
		return Usage{}, fmt.Errorf("counting deployments: %w", err)
	}
	defer rows.Close()

	var u Usage
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Usage{}, fmt.Errorf("scanning deployment count: %w", err)
		}
		u.add(status, n)
	}
	if err := rows.Err(); err != nil {
		return Usage{}, fmt.Errorf("iterating deployment counts: %w", err)
	}
	return u, nil
}

// UpdateExpiry applies an extension if the row still has the expected
// status and expiry.
func (r *PostgresRepository) UpdateExpiry(ctx context.Context, id uuid.UUID, u ExpiryUpdate) (*Deployment, error) {
	query := fmt.Sprintf(`
		UPDATE deployments
		SET expires_at = $4, tier = $5, status = 'active', archived_at = NULL,
			last_extended_at = $6, reminded_at = NULL, updated_at = $6
		WHERE id = $1 AND status = $2 AND expires_at = $3
		RETURNING %s`, allColumns)

	d, err := scanDeployment(database.Conn(ctx, r.pool).QueryRow(ctx, query,
		id, u.ExpectedStatus, u.ExpectedExpiresAt, u.ExpiresAt, u.Tier, u.At,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStale
		}
		return nil, fmt.Errorf("updating deployment expiry: %w", err)
	}
	return d, nil
}

// Transition moves the row to t.To if it still matches t's predicates.
func (r *PostgresRepository) Transition(ctx context.Context, id uuid.UUID, t Transition) (*Deployment, error) {
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}

	query := fmt.Sprintf(`
		UPDATE deployments
		SET status = $2::text,
			updated_at = $3,
			archived_at = CASE
				WHEN $2::text = 'archived' THEN $3
				WHEN $2::text = 'active' THEN NULL
				ELSE archived_at END,
			deleted_at = CASE WHEN $2::text = 'deleted' THEN $3 ELSE deleted_at END
		WHERE id = $1
			AND status = ANY($4::text[])
			AND ($5::timestamptz IS NULL OR expires_at <= $5)
			AND ($6::timestamptz IS NULL OR archived_at <= $6)
		RETURNING %s`, allColumns)

	d, err := scanDeployment(database.Conn(ctx, r.pool).QueryRow(ctx, query,
		id, string(t.To), t.At, from, t.ExpiredBy, t.ArchivedBy,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStale
		}
		return nil, fmt.Errorf("transitioning deployment: %w", err)
	}
	return d, nil
}

// ListExpired returns active deployments whose expiry has passed.
func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]Deployment, error) {
	query := fmt.Sprintf(`SELECT %s FROM deployments
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, allColumns)
	return r.queryList(ctx, query, now, limit)
}

// ListArchivedBefore returns archived deployments archived at or before cutoff.
func (r *PostgresRepository) ListArchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Deployment, error) {
	query := fmt.Sprintf(`SELECT %s FROM deployments
		WHERE status = 'archived' AND archived_at <= $1
		ORDER BY archived_at LIMIT $2`, allColumns)
	return r.queryList(ctx, query, cutoff, limit)
}

// ListExpiringBetween returns active, not yet reminded deployments with a
// notification address whose expiry falls in (from, to].
func (r *PostgresRepository) ListExpiringBetween(ctx context.Context, from, to time.Time, limit int) ([]Deployment, error) {
	query := fmt.Sprintf(`SELECT %s FROM deployments
		WHERE status = 'active'
			AND expires_at > $1 AND expires_at <= $2
			AND COALESCE(notify_email, '') <> ''
			AND reminded_at IS NULL
		ORDER BY expires_at LIMIT $3`, allColumns)
	return r.queryList(ctx, query, from, to, limit)
}

// MarkReminded claims the reminder for the given expiry.
func (r *PostgresRepository) MarkReminded(ctx context.Context, id uuid.UUID, expiresAt, at time.Time) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE deployments SET reminded_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'active' AND expires_at = $2 AND reminded_at IS NULL`,
		id, expiresAt, at,
	)
	if err != nil {
		return false, fmt.Errorf("marking deployment reminded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
