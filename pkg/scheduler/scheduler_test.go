package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/treevault/pkg/scheduler"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()

	s, err := scheduler.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func noop(context.Context) error { return nil }

func TestAddCron(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.AddCron(context.Background(), "a", "0 4 * * *", noop))
	require.Error(t, s.AddCron(context.Background(), "a", "0 5 * * *", noop), "duplicate name")
	require.Error(t, s.AddCron(context.Background(), "b", "not a cron", noop))

	infos := s.GetJobInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, scheduler.StatusScheduled, infos[0].Status)
	assert.False(t, infos[0].NextRun.IsZero())
}

// TestRunNow 测试手动触发并记录成功与失败次数.
func TestRunNow(t *testing.T) {
	s := newScheduler(t)

	var calls atomic.Int32
	require.NoError(t, s.AddCron(context.Background(), "ok", "0 4 * * *", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.AddCron(context.Background(), "bad", "0 4 * * *", func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, s.AddCron(context.Background(), "panics", "0 4 * * *", func(context.Context) error {
		panic("kaboom")
	}))

	s.Start()

	for _, name := range []string{"ok", "bad", "panics"} {
		require.NoError(t, s.RunNow(name))
	}

	assert.Eventually(t, func() bool {
		info, err := s.GetJobInfoByName("ok")
		return err == nil && info.Runs == 1 && !info.LastSuccess.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	assert.Eventually(t, func() bool {
		info, err := s.GetJobInfoByName("bad")
		return err == nil && info.Failures == 1 && info.Status == scheduler.StatusError && info.Error == "boom"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		info, err := s.GetJobInfoByName("panics")
		return err == nil && info.Failures == 1 && info.Error == "panic: kaboom"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownJob(t *testing.T) {
	s := newScheduler(t)

	require.ErrorIs(t, s.RunNow("missing"), scheduler.ErrJobNotFound)
	require.ErrorIs(t, s.Remove("missing"), scheduler.ErrJobNotFound)

	_, err := s.GetJobInfoByName("missing")
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)

	require.NoError(t, s.AddCron(context.Background(), "x", "0 4 * * *", noop))
	require.NoError(t, s.Remove("x"))
	assert.Empty(t, s.GetJobInfos())
}
