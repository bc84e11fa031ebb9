package metrics

import (
	"context"
	"time"

	"github.com/cyberguard/cyberguard/internal/models"
	"github.com/cyberguard/cyberguard/internal/store"
)

// instrumentedStore records the count and latency of every call made
// through it before delegating to the wrapped store.
type instrumentedStore struct {
	next store.Store
	pm   *PrometheusMetrics
}

// InstrumentStore wraps st so every operation is recorded in pm.
func InstrumentStore(st store.Store, pm *PrometheusMetrics) store.Store {
	return &instrumentedStore{next: st, pm: pm}
}

func (s *instrumentedStore) observe(op string, kind models.Kind, start time.Time, err error) {
	s.pm.RecordStoreOperation(op, string(kind), time.Since(start), err)
}

func (s *instrumentedStore) Get(ctx context.Context, kind models.Kind, id string) (models.Record, error) {
	start := time.Now()
	rec, err := s.next.Get(ctx, kind, id)
	s.observe("get", kind, start, err)
	return rec, err
}

func (s *instrumentedStore) List(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	start := time.Now()
	recs, err := s.next.List(ctx, kind)
	s.observe("list", kind, start, err)
	return recs, err
}

func (s *instrumentedStore) FindByField(ctx context.Context, kind models.Kind, field, value string) (models.Record, error) {
	start := time.Now()
	rec, err := s.next.FindByField(ctx, kind, field, value)
	s.observe("find", kind, start, err)
	return rec, err
}

func (s *instrumentedStore) Insert(ctx context.Context, rec models.Record) error {
	var kind models.Kind
	if rec != nil {
		kind = rec.RecordKind()
	}
	start := time.Now()
	err := s.next.Insert(ctx, rec)
	s.observe("insert", kind, start, err)
	return err
}

func (s *instrumentedStore) UpdateScan(ctx context.Context, id string, mutate func(*models.ScanResult) error) (models.ScanResult, error) {
	start := time.Now()
	scan, err := s.next.UpdateScan(ctx, id, mutate)
	s.observe("update", models.KindScans, start, err)
	return scan, err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", "", start, err)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
