package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/folio-cms/folio/internal/model"
)

// Common errors for owner binding operations.
var (
	ErrBindingNotFound = errors.New("owner binding not found")
	ErrDomainExists    = errors.New("domain already bound")
)

// bindingSelect joins the owner so resolution gets a full identity in one query.
const bindingSelect = `
	SELECT b.id, b.domain, b.owner_id, u.email, b.created_at
	FROM owner_bindings b
	JOIN users u ON u.id = b.owner_id`

// CreateBinding inserts a domain-to-owner binding.
// Returns ErrUserNotFound when the owner does not exist.
func (r *Repository) CreateBinding(ctx context.Context, binding *model.OwnerBinding) error {
	query := `
		INSERT INTO owner_bindings (id, domain, owner_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.Exec(ctx, query, binding.ID, binding.Domain, binding.OwnerID, binding.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDomainExists
		}
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to create binding: %w", err)
	}

	return nil
}

// BindingByID retrieves a binding by ID.
func (r *Repository) BindingByID(ctx context.Context, id string) (*model.OwnerBinding, error) {
	query := bindingSelect + ` WHERE b.id = $1`

	binding, err := scanBinding(r.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	return binding, nil
}

// ListBindings returns all bindings ordered by domain.
func (r *Repository) ListBindings(ctx context.Context) ([]*model.OwnerBinding, error) {
	query := bindingSelect + ` ORDER BY b.domain`
	return r.queryBindings(ctx, query)
}

// BindingsByDomains returns the bindings whose domain is any of the candidates,
// keyed by domain. Callers decide precedence among the candidates.
func (r *Repository) BindingsByDomains(ctx context.Context, domains []string) (map[string]*model.OwnerBinding, error) {
	result := make(map[string]*model.OwnerBinding, len(domains))
	if len(domains) == 0 {
		return result, nil
	}

	query := bindingSelect + ` WHERE b.domain = ANY($1)`

	bindings, err := r.queryBindings(ctx, query, pq.Array(domains))
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		result[b.Domain] = b
	}

	return result, nil
}

// DeleteBinding removes a binding and returns it, so callers can invalidate
// the cached domain.
func (r *Repository) DeleteBinding(ctx context.Context, id string) (*model.OwnerBinding, error) {
	query := `
		WITH deleted AS (
			DELETE FROM owner_bindings WHERE id = $1
			RETURNING id, domain, owner_id, created_at
		)
		SELECT d.id, d.domain, d.owner_id, u.email, d.created_at
		FROM deleted d
		JOIN users u ON u.id = d.owner_id
	`

	binding, err := scanBinding(r.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("failed to delete binding: %w", err)
	}

	return binding, nil
}

func (r *Repository) queryBindings(ctx context.Context, query string, args ...any) ([]*model.OwnerBinding, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	bindings := make([]*model.OwnerBinding, 0)
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bindings: %w", err)
	}

	return bindings, nil
}

func scanBinding(row pgx.Row) (*model.OwnerBinding, error) {
	var b model.OwnerBinding
	if err := row.Scan(&b.ID, &b.Domain, &b.OwnerID, &b.OwnerEmail, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
