package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/portfolio-engine/internal/model"
)

type fakeRefresher struct {
	calls []time.Time
	err   error
}

func (f *fakeRefresher) RefreshPrices(_ context.Context, priceDate time.Time, symbols, providers []string) (*model.RefreshResult, error) {
	f.calls = append(f.calls, priceDate)
	if f.err != nil {
		return nil, f.err
	}
	return &model.RefreshResult{PriceDate: model.AsDate(priceDate), FailedSymbols: []string{"XFAIL1"}, JobRunID: "job-1"}, nil
}

func TestRefreshJob_UsesToday(t *testing.T) {
	f := &fakeRefresher{}
	job := NewRefreshJob(f)
	job.now = func() time.Time { return time.Date(2026, 2, 10, 22, 30, 5, 0, time.UTC) }

	require.NoError(t, New().RunNow(job))
	require.Len(t, f.calls, 1)
	assert.True(t, f.calls[0].Equal(model.Date(2026, 2, 10)))
	assert.Equal(t, "price_refresh", job.Name())
}

func TestRefreshJob_PropagatesError(t *testing.T) {
	boom := errors.New("store down")
	job := NewRefreshJob(&fakeRefresher{err: boom})

	err := New().RunNow(job)
	assert.ErrorIs(t, err, boom)
}

func TestAddJob_RejectsBadSchedule(t *testing.T) {
	s := New()
	assert.Error(t, s.AddJob("every tuesday", NewRefreshJob(&fakeRefresher{})))
	assert.NoError(t, s.AddJob("0 30 22 * * MON-FRI", NewRefreshJob(&fakeRefresher{})))
}

func TestScheduler_RunsOnTick(t *testing.T) {
	f := &fakeRefresher{}
	done := make(chan struct{}, 1)
	s := New()
	require.NoError(t, s.AddJob("@every 1s", jobFunc(func(ctx context.Context) error {
		_, err := f.RefreshPrices(ctx, model.Date(2026, 2, 10), nil, nil)
		select {
		case done <- struct{}{}:
		default:
		}
		return err
	})))

	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

type jobFunc func(ctx context.Context) error

func (f jobFunc) Run(ctx context.Context) error { return f(ctx) }
func (jobFunc) Name() string                    { return "test" }
