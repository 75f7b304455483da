// Package customer is the Postgres-backed dealership lookup used by the
// webhook layer (API-key auth) and the inbound executor (search credential).
package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no matching active customer or key exists.
var ErrNotFound = errors.New("customer not found")

// Customer is one dealership record.
type Customer struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	ContactEmail sql.NullString `db:"contact_email"`
	IsActive     bool           `db:"is_active"`
	APIKey       sql.NullString `db:"api_key"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Store reads customers and their search API keys.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a customer store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// FindByID fetches one customer by ID.
func (s *Store) FindByID(ctx context.Context, id string) (*Customer, error) {
	query := `
		SELECT id, name, contact_email, is_active, api_key, created_at, updated_at
		FROM customers
		WHERE id = $1
	`

	var c Customer
	if err := s.db.GetContext(ctx, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

// FindByAPIKey fetches the active customer owning the given webhook API key.
func (s *Store) FindByAPIKey(ctx context.Context, apiKey string) (*Customer, error) {
	query := `
		SELECT id, name, contact_email, is_active, api_key, created_at, updated_at
		FROM customers
		WHERE api_key = $1 AND is_active = TRUE
	`

	var c Customer
	if err := s.db.GetContext(ctx, &c, query, apiKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer by api key: %w", err)
	}
	return &c, nil
}

// ActiveAPIKey resolves the customer's active search API key, preferring
// the customer_api_keys table and falling back to the customers row.
func (s *Store) ActiveAPIKey(ctx context.Context, customerID string) (string, error) {
	query := `
		SELECT api_key
		FROM customer_api_keys
		WHERE customer_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`

	var apiKey string
	err := s.db.GetContext(ctx, &apiKey, query, customerID)
	if err == nil {
		return apiKey, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to get customer api key: %w", err)
	}

	customer, err := s.FindByID(ctx, customerID)
	if err != nil {
		return "", err
	}
	if !customer.APIKey.Valid || customer.APIKey.String == "" {
		s.logger.Warn("Customer has no active api key",
			slog.String("customer_id", customerID),
		)
		return "", ErrNotFound
	}
	return customer.APIKey.String, nil
}
