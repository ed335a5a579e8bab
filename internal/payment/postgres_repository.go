package payment

import (
	"context"
	"errors"
	"fmt"

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

const allColumns = `id, provider, external_id, fingerprint, plan, tier, months,
	amount_cents, currency, status, deployment_id, created_at, claimed_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.Provider, &p.ExternalID, &p.Fingerprint, &p.Plan, &p.Tier, &p.Months,
		&p.AmountCents, &p.Currency, &p.Status, &p.DeploymentID, &p.CreatedAt, &p.ClaimedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Insert records a payment. The unique (provider, external_id) constraint
// decides which of several concurrent deliveries wins.
func (r *PostgresRepository) Insert(ctx context.Context, p *Payment) (bool, error) {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO payments (id, provider, external_id, fingerprint, plan, tier, months,
			amount_cents, currency, status, deployment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider, external_id) DO NOTHING`,
		p.ID, p.Provider, p.ExternalID, p.Fingerprint, p.Plan, p.Tier, p.Months,
		p.AmountCents, p.Currency, p.Status, p.DeploymentID, p.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("inserting payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByExternalID retrieves a payment by its channel reference.
func (r *PostgresRepository) GetByExternalID(ctx context.Context, provider Provider, externalID string) (*Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE provider = $1 AND external_id = $2`, allColumns)
	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query, provider, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment row: %w", err)
	}
	return p, nil
}

// Promote settles a pending payment.
func (r *PostgresRepository) Promote(ctx context.Context, provider Provider, externalID string, fingerprint *string) (*Payment, bool, error) {
	query := fmt.Sprintf(`
		UPDATE payments SET status = 'paid', fingerprint = COALESCE(fingerprint, $3)
		WHERE provider = $1 AND external_id = $2 AND status <> 'paid'
		RETURNING %s`, allColumns)

	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query, provider, externalID, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("promoting payment: %w", err)
	}
	return p, true, nil
}

// Claim attaches a fingerprint to an unclaimed paid payment.
func (r *PostgresRepository) Claim(ctx context.Context, u ClaimUpdate) (*Payment, bool, error) {
	query := fmt.Sprintf(`
		UPDATE payments
		SET fingerprint = $3, claimed_at = $4
		WHERE provider = $1 AND external_id = $2 AND fingerprint IS NULL AND status = 'paid'
		RETURNING %s`, allColumns)

	p, err := scanPayment(database.Conn(ctx, r.pool).QueryRow(ctx, query,
		u.Provider, u.ExternalID, u.Fingerprint, u.At,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claiming payment: %w", err)
	}
	return p, true, nil
}
