package reporter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard/internal/dashboard"
	"github.com/cyberguard/cyberguard/internal/store"
)

func createTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

type fakeSessions struct {
	pruned int
	active int
}

func (f *fakeSessions) Prune(context.Context) int { return f.pruned }
func (f *fakeSessions) Active() int               { return f.active }

type fakeGauges struct {
	mu       sync.Mutex
	summary  dashboard.Summary
	sessions int
}

func (f *fakeGauges) SetSummary(s dashboard.Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary = s
}

func (f *fakeGauges) SetActiveSessions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = n
}

type failingSummary struct{}

func (failingSummary) Summary(context.Context) (dashboard.Summary, error) {
	return dashboard.Summary{}, errors.New("store offline")
}

func seededService(t *testing.T) *dashboard.Service {
	t.Helper()
	st := store.NewMemory()
	ctx := context.Background()
	f := store.Fixtures(time.Now())
	for _, d := range f.Devices {
		require.NoError(t, st.Insert(ctx, d))
	}
	for _, p := range f.OpenPorts {
		require.NoError(t, st.Insert(ctx, p))
	}
	for _, c := range f.CVEs {
		require.NoError(t, st.Insert(ctx, c))
	}
	return dashboard.NewService(st)
}

func TestRegisterAndRunJobs(t *testing.T) {
	var buf bytes.Buffer
	r := New(createTestLogger(&buf))
	gauges := &fakeGauges{}
	sessions := &fakeSessions{pruned: 2, active: 3}

	require.NoError(t, r.Register("@every 1h", seededService(t), sessions, gauges))
	assert.Len(t, r.Jobs(), 2)

	assert.True(t, r.RunJob(JobSummary))
	assert.Equal(t, dashboard.Summary{DeviceCount: 4, OpenPortsCount: 4, CriticalCVECount: 2, SecurityItemsCount: 10}, gauges.summary)
	assert.Contains(t, buf.String(), "security_items=10")

	assert.True(t, r.RunJob(JobSessionPrune))
	assert.Equal(t, 3, gauges.sessions)
	assert.Contains(t, buf.String(), "pruned=2")

	assert.False(t, r.RunJob("missing"))

	for _, j := range r.Jobs() {
		assert.Equal(t, 1, j.Runs, j.Name)
		assert.NoError(t, j.LastErr)
		assert.False(t, j.LastRun.IsZero())
		assert.True(t, j.NextRun.After(j.LastRun))
	}
}

func TestRegisterWithoutGauges(t *testing.T) {
	r := New(createTestLogger(&bytes.Buffer{}))
	require.NoError(t, r.Register("@every 1h", seededService(t), &fakeSessions{}, nil))
	assert.True(t, r.RunJob(JobSummary))
	assert.True(t, r.RunJob(JobSessionPrune))
}

func TestJobErrorIsRecorded(t *testing.T) {
	var buf bytes.Buffer
	r := New(createTestLogger(&buf))
	require.NoError(t, r.Register("@every 1h", failingSummary{}, &fakeSessions{}, nil))

	assert.True(t, r.RunJob(JobSummary))
	assert.Contains(t, buf.String(), "store offline")

	for _, j := range r.Jobs() {
		if j.Name == JobSummary {
			assert.Error(t, j.LastErr)
		}
	}
}

func TestAddJobValidation(t *testing.T) {
	r := New(nil)

	assert.Error(t, r.AddJob("bad", "not a schedule", func(context.Context) error { return nil }))

	require.NoError(t, r.AddJob("once", "@every 1h", func(context.Context) error { return nil }))
	assert.Error(t, r.AddJob("once", "@every 1h", func(context.Context) error { return nil }))
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	r := New(createTestLogger(&bytes.Buffer{}))
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, r.AddJob("slow", "@every 1h", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan bool)
	go func() { done <- r.RunJob("slow") }()
	<-started

	assert.False(t, r.RunJob("slow"))
	close(release)
	assert.True(t, <-done)
}

func TestRunSchedulesJobs(t *testing.T) {
	r := New(createTestLogger(&bytes.Buffer{}))
	var runs atomic.Int32
	require.NoError(t, r.AddJob("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	assert.NoError(t, r.Start(), "a stopped reporter can be restarted")
	r.Stop()
	r.Stop()
}
