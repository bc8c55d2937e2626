// Package storage persists the path catalog and reconcile history in SQLite.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrNotFound is returned when a catalog record or report does not exist.
var ErrNotFound = errors.New("not found")

// CatalogStore persists the path catalog.
type CatalogStore interface {
	// Replace atomically swaps the whole catalog for records, keeping their order.
	Replace(ctx context.Context, records []models.FileRecord) error
	// List returns every record in insertion order.
	List(ctx context.Context) ([]models.FileRecord, error)
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	Count(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// ReportStore keeps the history of reconcile runs.
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.ReconcileReport) error
	LastReport(ctx context.Context) (*models.ReconcileReport, error)
}
