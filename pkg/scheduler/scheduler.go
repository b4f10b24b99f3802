// Package scheduler 包装 gocron/v2，记录每个维护任务的运行状态.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/yeisme/treevault/pkg/log"
)

// JobStatus 任务状态.
type JobStatus string

const (
	StatusScheduled JobStatus = "scheduled"
	StatusRunning   JobStatus = "running"
	StatusError     JobStatus = "error"
)

// ErrJobNotFound 任务名未注册.
var ErrJobNotFound = errors.New("scheduler: job not found")

// JobFunc 任务主体，返回的错误记入 JobInfo.Error.
type JobFunc func(ctx context.Context) error

// JobInfo 对外展示的任务快照.
type JobInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CronExpr    string    `json:"cron_expr"`
	NextRun     time.Time `json:"next_run"`
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastElapsed string    `json:"last_elapsed,omitempty"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type entry struct {
	job  gocron.Job
	info JobInfo
}

// Scheduler 按名称管理 cron 任务.
type Scheduler struct {
	cron   gocron.Scheduler
	mu     sync.RWMutex
	byName map[string]*entry
	logger *zerolog.Logger
}

// NewScheduler 创建调度器，调用 Start 之前任务不会触发.
func NewScheduler() (*Scheduler, error) {
	logger := log.Logger()

	c, err := gocron.NewScheduler(gocron.WithLogger(gocronLogger{l: logger}))
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		cron:   c,
		byName: make(map[string]*entry),
		logger: logger,
	}, nil
}

// AddCron 注册 cron 任务. 同名重复注册返回错误.
// 同一任务上一次未结束时跳过本次触发.
func (s *Scheduler) AddCron(ctx context.Context, name, cronExpr string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	j, err := s.cron.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func(ctx context.Context) { s.run(ctx, name, fn) }, ctx),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	next, _ := j.NextRun()
	s.byName[name] = &entry{
		job: j,
		info: JobInfo{
			ID:        j.ID().String(),
			Name:      name,
			CronExpr:  cronExpr,
			NextRun:   next,
			Status:    StatusScheduled,
			CreatedAt: time.Now(),
		},
	}

	s.logger.Info().Str("job", name).Str("cron", cronExpr).Msg("cron job registered")

	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) {
	start := time.Now()
	s.update(name, func(i *JobInfo) {
		i.Status = StatusRunning
		i.LastRun = start
	})

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		return fn(ctx)
	}()

	elapsed := time.Since(start)
	s.update(name, func(i *JobInfo) {
		i.Runs++
		i.LastElapsed = elapsed.Round(time.Millisecond).String()

		if err != nil {
			i.Failures++
			i.Status = StatusError
			i.Error = err.Error()

			return
		}

		i.Status = StatusScheduled
		i.Error = ""
		i.LastSuccess = time.Now()
	})

	if err != nil {
		s.logger.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("cron job failed")
		return
	}

	s.logger.Info().Str("job", name).Dur("elapsed", elapsed).Msg("cron job finished")
}

func (s *Scheduler) update(name string, fn func(*JobInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byName[name]; ok {
		fn(&e.info)
	}
}

// RunNow 立即触发一次任务，不影响原有 cron 计划.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	e, ok := s.byName[name]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	return e.job.RunNow()
}

// Remove 注销任务.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if err := s.cron.RemoveJob(e.job.ID()); err != nil {
		return err
	}

	delete(s.byName, name)

	return nil
}

// GetJobInfoByName 返回单个任务快照.
func (s *Scheduler) GetJobInfoByName(name string) (*JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	info := s.snapshot(e)

	return &info, nil
}

// GetJobInfos 返回所有任务快照，顺序不固定.
func (s *Scheduler) GetJobInfos() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, s.snapshot(e))
	}

	return out
}

func (s *Scheduler) snapshot(e *entry) JobInfo {
	info := e.info
	if next, err := e.job.NextRun(); err == nil {
		info.NextRun = next
	}

	return info
}

// JobsWaitingInQueue 等待执行的任务数.
func (s *Scheduler) JobsWaitingInQueue() int {
	return s.cron.JobsWaitingInQueue()
}

// Start 启动调度器.
func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.GetJobInfos())).Msg("starting scheduler")
	s.cron.Start()
}

// Stop 关闭调度器并等待运行中的任务退出.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("stopping scheduler")
	return s.cron.Shutdown()
}

// gocronLogger 把 gocron 内部日志转到 zerolog.
type gocronLogger struct {
	l *zerolog.Logger
}

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debug().Fields(args).Msg(msg) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Info().Fields(args).Msg(msg) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warn().Fields(args).Msg(msg) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Error().Fields(args).Msg(msg) }
