package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daap14/pagelease/internal/database"
	"github.com/daap14/pagelease/internal/plan"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new Repository backed by the given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

// horizonColumns whitelists the column written for each paid tier.
var horizonColumns = map[plan.Tier]string{
	plan.TierSupporter: "supporter_until",
	plan.TierBusiness:  "business_until",
}

// Get retrieves the entitlement for a fingerprint.
func (r *PostgresRepository) Get(ctx context.Context, fingerprint string) (*Entitlement, error) {
	var e Entitlement
	err := database.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT fingerprint, supporter_until, business_until, created_at, updated_at
		FROM entitlements WHERE fingerprint = $1`, fingerprint,
	).Scan(&e.Fingerprint, &e.SupporterUntil, &e.BusinessUntil, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning entitlement row: %w", err)
	}
	return &e, nil
}

// CompareAndSetHorizon upserts the row and applies a predicate update on the
// tier's horizon column.
func (r *PostgresRepository) CompareAndSetHorizon(ctx context.Context, fingerprint string, tier plan.Tier, expected *time.Time, next time.Time) (bool, error) {
	col, ok := horizonColumns[tier]
	if !ok {
		return false, fmt.Errorf("no horizon for tier %q", tier)
	}

	conn := database.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx,
		`INSERT INTO entitlements (fingerprint) VALUES ($1) ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint,
	); err != nil {
		return false, fmt.Errorf("creating entitlement row: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE entitlements SET %[1]s = $2, updated_at = now()
		WHERE fingerprint = $1 AND %[1]s IS NOT DISTINCT FROM $3::timestamptz`, col)

	tag, err := conn.Exec(ctx, query, fingerprint, next, expected)
	if err != nil {
		return false, fmt.Errorf("updating entitlement horizon: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
