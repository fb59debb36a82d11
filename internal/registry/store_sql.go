package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists registrations in the platform_registrations table.
// Works against both the sqlite and postgres schemas from internal/db.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const regColumns = `id, issuer, client_id, client_secret, deployment_id, auth_endpoint, jwks_endpoint, token_endpoint, token_audience, tenant_ref`

func scanRegistration(row interface{ Scan(...any) error }) (Registration, error) {
	var r Registration
	err := row.Scan(&r.ID, &r.Issuer, &r.ClientID, &r.ClientSecret, &r.DeploymentID,
		&r.AuthEndpoint, &r.JWKSEndpoint, &r.TokenEndpoint, &r.TokenAudience, &r.TenantRef)
	return r, err
}

func (s *SQLStore) FindByIssuerClient(ctx context.Context, issuer, clientID string) (Registration, error) {
	return s.findOne(ctx,
		`SELECT `+regColumns+` FROM platform_registrations WHERE issuer = $1 AND client_id = $2 LIMIT 2`,
		issuer, clientID)
}

func (s *SQLStore) FindByIssuerClientDeployment(ctx context.Context, issuer, clientID, deploymentID string) (Registration, error) {
	return s.findOne(ctx,
		`SELECT `+regColumns+` FROM platform_registrations WHERE issuer = $1 AND client_id = $2 AND deployment_id = $3 LIMIT 2`,
		issuer, clientID, deploymentID)
}

// findOne enforces the exactly-one invariant: LIMIT 2 lets us distinguish a
// unique match from an ambiguous configuration without counting the table.
func (s *SQLStore) findOne(ctx context.Context, query string, args ...any) (Registration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Registration{}, fmt.Errorf("registry: query: %w", err)
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return Registration{}, fmt.Errorf("registry: scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return Registration{}, fmt.Errorf("registry: rows: %w", err)
	}
	if len(out) != 1 {
		return Registration{}, ErrUnknownPlatform
	}
	return out[0], nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+regColumns+` FROM platform_registrations WHERE id = $1`, id)
	r, err := scanRegistration(row)
	if err == sql.ErrNoRows {
		return Registration{}, ErrUnknownPlatform
	}
	if err != nil {
		return Registration{}, fmt.Errorf("registry: get: %w", err)
	}
	return r, nil
}

func (s *SQLStore) Create(ctx context.Context, reg Registration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO platform_registrations (`+regColumns+`, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		reg.ID, reg.Issuer, reg.ClientID, reg.ClientSecret, reg.DeploymentID,
		reg.AuthEndpoint, reg.JWKSEndpoint, reg.TokenEndpoint, reg.TokenAudience,
		reg.TenantRef, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("registry: create: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, offset, limit int) ([]Registration, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+regColumns+` FROM platform_registrations ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM platform_registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("registry: delete: %w", err)
	}
	return nil
}
