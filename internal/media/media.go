// Package media manages vehicle media records (images, videos, documents).
// Operator tooling, not in the job hot path.
package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no matching media record exists.
var ErrNotFound = errors.New("media not found")

// Media types.
const (
	TypeImage          = "image"
	TypeVideo          = "video"
	TypeDocument       = "document"
	TypeThreeSixtyView = "three_sixty_view"
	TypeThumbnail      = "thumbnail"
)

// ValidType reports whether t is a known media type.
func ValidType(t string) bool {
	switch t {
	case TypeImage, TypeVideo, TypeDocument, TypeThreeSixtyView, TypeThumbnail:
		return true
	}
	return false
}

// Media is one car_media row.
type Media struct {
	ID              string         `db:"id"`
	CarID           int64          `db:"car_id"`
	CustomerID      string         `db:"customer_id"`
	MediaType       string         `db:"media_type"`
	URL             string         `db:"url"`
	StorageProvider string         `db:"storage_provider"`
	FileName        sql.NullString `db:"file_name"`
	MimeType        sql.NullString `db:"mime_type"`
	FileSizeBytes   sql.NullInt64  `db:"file_size_bytes"`
	AltText         sql.NullString `db:"alt_text"`
	DisplayOrder    int            `db:"display_order"`
	IsPrimary       bool           `db:"is_primary"`
	IsActive        bool           `db:"is_active"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// CarMedia is a car's media grouped by type, with the primary image
// resolved (the flagged image, else the first one).
type CarMedia struct {
	CarID        int64
	TotalCount   int
	Images       []Media
	Videos       []Media
	Documents    []Media
	PrimaryImage *Media
}

// Store manages car_media rows.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a media store.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const mediaColumns = `
	id, car_id, customer_id, media_type, url, storage_provider,
	file_name, mime_type, file_size_bytes, alt_text,
	display_order, is_primary, is_active, created_at, updated_at
`

// CreateParams are the caller-supplied fields for a new media record.
type CreateParams struct {
	CarID           int64
	CustomerID      string
	MediaType       string
	URL             string
	StorageProvider string
	FileName        string
	MimeType        string
	AltText         string
	DisplayOrder    int
	IsPrimary       bool
}

// Create inserts a new media record and returns it.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Media, error) {
	if !ValidType(params.MediaType) {
		return nil, fmt.Errorf("invalid media type %q", params.MediaType)
	}
	if params.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	query := `
		INSERT INTO car_media (
			id, car_id, customer_id, media_type, url, storage_provider,
			file_name, mime_type, alt_text, display_order, is_primary,
			is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11,
			TRUE, NOW(), NOW()
		)
		RETURNING ` + mediaColumns

	var m Media
	err := s.db.GetContext(ctx, &m, query,
		uuid.New().String(),
		params.CarID,
		params.CustomerID,
		params.MediaType,
		params.URL,
		params.StorageProvider,
		params.FileName,
		params.MimeType,
		params.AltText,
		params.DisplayOrder,
		params.IsPrimary,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create media: %w", err)
	}

	s.logger.Info("Media created",
		slog.String("media_id", m.ID),
		slog.Int64("car_id", m.CarID),
		slog.String("media_type", m.MediaType),
	)
	return &m, nil
}

// GetByID fetches one media record scoped to a customer.
func (s *Store) GetByID(ctx context.Context, mediaID, customerID string) (*Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM car_media WHERE id = $1 AND customer_id = $2`

	var m Media
	if err := s.db.GetContext(ctx, &m, query, mediaID, customerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return &m, nil
}

// ListForCar returns a car's media grouped by type.
func (s *Store) ListForCar(ctx context.Context, carID int64, customerID string, includeInactive bool) (*CarMedia, error) {
	query := `SELECT ` + mediaColumns + ` FROM car_media WHERE car_id = $1 AND customer_id = $2`
	if !includeInactive {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY display_order ASC, created_at ASC`

	var rows []Media
	if err := s.db.SelectContext(ctx, &rows, query, carID, customerID); err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}

	return groupByType(carID, rows), nil
}

// groupByType organizes rows into the CarMedia response shape.
func groupByType(carID int64, rows []Media) *CarMedia {
	result := &CarMedia{
		CarID:      carID,
		TotalCount: len(rows),
	}
	for _, m := range rows {
		switch m.MediaType {
		case TypeImage, TypeThumbnail:
			result.Images = append(result.Images, m)
		case TypeVideo:
			result.Videos = append(result.Videos, m)
		case TypeDocument, TypeThreeSixtyView:
			result.Documents = append(result.Documents, m)
		}
	}
	for i := range result.Images {
		if result.Images[i].IsPrimary {
			result.PrimaryImage = &result.Images[i]
			break
		}
	}
	if result.PrimaryImage == nil && len(result.Images) > 0 {
		result.PrimaryImage = &result.Images[0]
	}
	return result
}

// UpdateParams are the optional fields of an update; nil means unchanged.
type UpdateParams struct {
	URL          *string
	FileName     *string
	MimeType     *string
	AltText      *string
	DisplayOrder *int
	IsPrimary    *bool
	IsActive     *bool
}

// Update patches the set fields of one media record and returns the result.
func (s *Store) Update(ctx context.Context, mediaID, customerID string, params UpdateParams) (*Media, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{mediaID, customerID}
	idx := 3

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if params.URL != nil {
		add("url", *params.URL)
	}
	if params.FileName != nil {
		add("file_name", *params.FileName)
	}
	if params.MimeType != nil {
		add("mime_type", *params.MimeType)
	}
	if params.AltText != nil {
		add("alt_text", *params.AltText)
	}
	if params.DisplayOrder != nil {
		add("display_order", *params.DisplayOrder)
	}
	if params.IsPrimary != nil {
		add("is_primary", *params.IsPrimary)
	}
	if params.IsActive != nil {
		add("is_active", *params.IsActive)
	}

	query := `UPDATE car_media SET `
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += ` WHERE id = $1 AND customer_id = $2 RETURNING ` + mediaColumns

	var m Media
	if err := s.db.GetContext(ctx, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update media: %w", err)
	}
	return &m, nil
}

// SetPrimary makes one media item the car's primary image, unsetting the
// previous one inside a transaction.
func (s *Store) SetPrimary(ctx context.Context, mediaID string, carID int64, customerID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE car_media SET is_primary = FALSE, updated_at = NOW() WHERE car_id = $1 AND customer_id = $2`,
		carID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to unset primary media: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE car_media SET is_primary = TRUE, updated_at = NOW() WHERE id = $1 AND car_id = $2 AND customer_id = $3`,
		mediaID, carID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set primary media: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Primary media updated",
		slog.String("media_id", mediaID),
		slog.Int64("car_id", carID),
	)
	return nil
}

// Reorder applies new display orders for a car's media in one transaction.
// orders maps media ID to its new display_order.
func (s *Store) Reorder(ctx context.Context, carID int64, customerID string, orders map[string]int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for mediaID, order := range orders {
		_, err := tx.ExecContext(ctx,
			`UPDATE car_media SET display_order = $1, updated_at = NOW() WHERE id = $2 AND car_id = $3 AND customer_id = $4`,
			order, mediaID, carID, customerID,
		)
		if err != nil {
			return fmt.Errorf("failed to reorder media %s: %w", mediaID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Deactivate soft-deletes one media record.
func (s *Store) Deactivate(ctx context.Context, mediaID, customerID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE car_media SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND customer_id = $2`,
		mediaID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate media: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete hard-deletes one media record.
func (s *Store) Delete(ctx context.Context, mediaID, customerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM car_media WHERE id = $1 AND customer_id = $2`,
		mediaID, customerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
