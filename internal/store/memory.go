package store

import (
	"context"
	"sync"

	"github.com/cyberguard/cyberguard/internal/errors"
	"github.com/cyberguard/cyberguard/internal/models"
)

// Memory is a process-local Store. A single RWMutex guards every kind, so
// each operation is atomic with respect to concurrent readers and writers.
type Memory struct {
	mu      sync.RWMutex
	records map[models.Kind]map[string]models.Record
	order   map[models.Kind][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{
		records: make(map[models.Kind]map[string]models.Record, len(models.Kinds)),
		order:   make(map[models.Kind][]string, len(models.Kinds)),
	}
	for _, k := range models.Kinds {
		m.records[k] = make(map[string]models.Record)
	}
	return m
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, kind models.Kind, id string) (models.Record, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[kind][id]
	if !ok {
		return nil, errors.ErrNotFound(string(kind), id)
	}
	return copyRecord(rec), nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, kind models.Kind) ([]models.Record, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order[kind]
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(m.records[kind][id]))
	}
	return out, nil
}

// FindByField implements Store with a linear scan in insertion order.
func (m *Memory) FindByField(_ context.Context, kind models.Kind, field, value string) (models.Record, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order[kind] {
		rec := m.records[kind][id]
		if v, ok := rec.FieldValue(field); ok && v == value {
			return copyRecord(rec), nil
		}
	}
	return nil, errors.ErrNotFound(string(kind), field+"="+value)
}

// Insert implements Store. On conflict the store is left unchanged.
func (m *Memory) Insert(_ context.Context, rec models.Record) error {
	if rec == nil {
		return errors.NewValidationError("Record is required")
	}
	kind := rec.RecordKind()
	if err := validateKind(kind); err != nil {
		return err
	}
	id := rec.RecordID()
	if id == "" {
		return errors.NewFieldValidationError("id", "Record id is required", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[kind][id]; exists {
		return errors.ErrConflict(string(kind), "id", id)
	}
	for _, field := range models.UniqueFields[kind] {
		value, ok := rec.FieldValue(field)
		if !ok {
			continue
		}
		for _, existing := range m.records[kind] {
			if v, _ := existing.FieldValue(field); v == value {
				return errors.ErrConflict(string(kind), field, value)
			}
		}
	}

	m.records[kind][id] = copyRecord(rec)
	m.order[kind] = append(m.order[kind], id)
	return nil
}

// UpdateScan implements Store.
func (m *Memory) UpdateScan(_ context.Context, id string, mutate func(*models.ScanResult) error) (models.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[models.KindScans][id]
	if !ok {
		return models.ScanResult{}, errors.ErrNotFound(string(models.KindScans), id)
	}

	scan := rec.(models.ScanResult).Clone()
	if err := mutate(&scan); err != nil {
		return models.ScanResult{}, err
	}
	scan.ID = id

	m.records[models.KindScans][id] = scan
	return scan.Clone(), nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// Count returns the number of records of a kind.
func (m *Memory) Count(kind models.Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order[kind])
}

func copyRecord(rec models.Record) models.Record {
	switch r := rec.(type) {
	case models.ScanResult:
		return r.Clone()
	case *models.ScanResult:
		return r.Clone()
	case *models.User:
		return *r
	case *models.Device:
		return *r
	case *models.OpenPort:
		return *r
	case *models.CVE:
		return *r
	}
	return rec
}
