package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humbertoham/wavestudio-sub000/internal/corporate"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(failure, success),
		Lock:     &fakeLock{},
		Metrics:  metrics.NewCronMetrics(reg),
	})
	require.NoError(t, err)

	report, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fail", "success"}, report.Ran)
	assert.Equal(t, []string{"fail"}, report.Failed)
	assert.Equal(t, 1, success.runs)
	assert.Equal(t, 1, failure.runs)
	assert.Equal(t, 24*time.Hour, svc.interval)

	families, err := reg.Gather()
	require.NoError(t, err)
	runs := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "studio_cron_job_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			runs[labels["job"]+"/"+labels["result"]] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"fail/failure": 1, "success/success": 1}, runs)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{acquired: true}
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{Logger: logger.Nop(), Registry: NewRegistry(job), Lock: lock, Metrics: metrics.NewCronMetrics(reg)})
	require.NoError(t, err)

	report, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, job.runs)

	families, err := reg.Gather()
	require.NoError(t, err)
	var skipped float64
	for _, mf := range families {
		if mf.GetName() == "studio_cron_cycles_total" {
			skipped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), skipped)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "job"}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &LocalLock{},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
	assert.Equal(t, 1, job.runs)
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &LocalLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.Nop()})
	assert.Error(t, err)
}

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockOwnership(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "ws:lock:cron", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "ws:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx))
	assert.Contains(t, store.values, "ws:lock:cron", "non-owner must not release")

	// lock expired and was taken over
	store.values["ws:lock:cron"] = "someone-else"
	require.NoError(t, first.Release(ctx))
	assert.Equal(t, "someone-else", store.values["ws:lock:cron"])

	delete(store.values, "ws:lock:cron")
	ok, err = first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Release(ctx))
	assert.NotContains(t, store.values, "ws:lock:cron")

	_, err = NewRedisLock(nil, "k", 0)
	assert.Error(t, err)
	_, err = NewRedisLock(store, "", 0)
	assert.Error(t, err)
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	var lock LocalLock
	ok, _ := lock.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = lock.Acquire(ctx)
	assert.False(t, ok)
	require.NoError(t, lock.Release(ctx))
	ok, _ = lock.Acquire(ctx)
	assert.True(t, ok)
}

type stubCorporate struct {
	summary *corporate.RunSummary
	err     error
	calls   int
}

func (s *stubCorporate) RunMonthly(context.Context) (*corporate.RunSummary, error) {
	s.calls++
	return s.summary, s.err
}

func TestCorporateMonthlyJob(t *testing.T) {
	stub := &stubCorporate{summary: &corporate.RunSummary{Granted: 3}}
	job, err := NewCorporateMonthlyJob(stub, nil)
	require.NoError(t, err)
	assert.Equal(t, "corporate-monthly", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, stub.calls)

	stub.err = errors.New("user x: boom")
	assert.EqualError(t, job.Run(context.Background()), "user x: boom")

	_, err = NewCorporateMonthlyJob(nil, nil)
	assert.Error(t, err)
}
