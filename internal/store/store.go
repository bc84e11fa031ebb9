// Package store holds the cyberguard entity store contract, its in-memory
// implementation and the fixture data seeded at startup.
package store

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/cyberguard/cyberguard/internal/store Store

import (
	"context"
	"fmt"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

// Store is the data-access contract shared by the access gate, the scan
// lifecycle manager and the dashboard queries. Records handed out are
// copies; mutating them never changes stored state.
type Store interface {
	// Get returns the record of the given kind with the given id.
	Get(ctx context.Context, kind models.Kind, id string) (models.Record, error)
	// List returns every record of a kind in insertion order.
	List(ctx context.Context, kind models.Kind) ([]models.Record, error)
	// FindByField returns the first record whose field equals value.
	FindByField(ctx context.Context, kind models.Kind, field, value string) (models.Record, error)
	// Insert adds a record, failing with a conflict if a unique field is taken.
	Insert(ctx context.Context, rec models.Record) error
	// UpdateScan applies mutate to a scan under the store's write lock and
	// persists the result unless mutate returns an error.
	UpdateScan(ctx context.Context, id string, mutate func(*models.ScanResult) error) (models.ScanResult, error)
	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// GetAs fetches a record and asserts it to T.
func GetAs[T models.Record](ctx context.Context, s Store, kind models.Kind, id string) (T, error) {
	var zero T
	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return zero, err
	}
	return as[T](rec)
}

// ListAs lists a kind and asserts every record to T.
func ListAs[T models.Record](ctx context.Context, s Store, kind models.Kind) ([]T, error) {
	recs, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := as[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindAs looks a record up by field and asserts it to T.
func FindAs[T models.Record](ctx context.Context, s Store, kind models.Kind, field, value string) (T, error) {
	var zero T
	rec, err := s.FindByField(ctx, kind, field, value)
	if err != nil {
		return zero, err
	}
	return as[T](rec)
}

func as[T models.Record](rec models.Record) (T, error) {
	v, ok := rec.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("store: record %s/%s has type %T, want %T", rec.RecordKind(), rec.RecordID(), rec, zero)
	}
	return v, nil
}

func validateKind(kind models.Kind) error {
	if !kind.Valid() {
		return errors.NewFieldValidationError("kind", "Unknown record kind", string(kind))
	}
	return nil
}
