// Package app 提供应用程序的初始化和配置功能.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yeisme/treevault/pkg/configs"
	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/handle"
	"github.com/yeisme/treevault/pkg/internal/jobs"
	"github.com/yeisme/treevault/pkg/internal/router"
	"github.com/yeisme/treevault/pkg/internal/service"
	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/log"
	"github.com/yeisme/treevault/pkg/metrics"
	"github.com/yeisme/treevault/pkg/middleware"
	"github.com/yeisme/treevault/pkg/scheduler"
	"github.com/yeisme/treevault/pkg/tracing"
)

// App 管理服务进程：存储、调度器、服务实例与 HTTP 引擎.
type App struct {
	Engine   *gin.Engine
	Services *service.Engine

	config  *configs.AppConfig
	manager *storage.Manager
	sched   *scheduler.Scheduler
	logger  zerolog.Logger
}

// NewApp 初始化追踪、指标与存储，并注册路由与定时任务.配置需已加载.
func NewApp(ctx context.Context) (*App, error) {
	config := configs.GetConfig()

	if err := tracing.InitTracer(config.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := metrics.InitMetrics(config.Metrics); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	manager, err := storage.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	sched, err := scheduler.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	if err := jobs.RegisterCronJobs(sched, manager); err != nil {
		return nil, err
	}

	services := service.NewEngine(service.NewDeps(ctxPkg.WithStorageManager(ctx, manager)))

	l := log.Logger()
	gin.DefaultWriter = log.NewGinWriter(l, zerolog.InfoLevel)
	gin.DefaultErrorWriter = log.NewGinWriter(l, zerolog.ErrorLevel)

	engine := gin.New()
	engine.Use(middleware.Default(manager, sched)...)

	router.Register(engine.Group(config.Server.BasePath), handle.New(services))

	if config.Metrics.Enabled {
		_ = metrics.StartMetricsServer(config.Metrics, engine)
	}

	return &App{
		Engine:   engine,
		Services: services,
		config:   config,
		manager:  manager,
		sched:    sched,
		logger:   log.Component("app"),
	}, nil
}

// Run 启动调度器与 HTTP 服务，恢复重启前未完成的 fork 任务；ctx 取消后优雅退出.
func (a *App) Run(ctx context.Context) error {
	a.sched.Start()

	bctx := ctxPkg.WithStorageManager(ctx, a.manager)
	if n, err := a.Services.Fork.ResumeRunning(bctx); err != nil {
		a.logger.Error().Err(err).Msg("resume fork jobs failed")
	} else if n > 0 {
		a.logger.Info().Int("jobs", n).Msg("resumed fork jobs")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
		Handler:           a.Engine,
		ReadHeaderTimeout: a.config.Server.GetTimeoutDuration(),
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("http server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.shutdown(srv))
}

func (a *App) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.GetShutdownTimeout())
	defer cancel()

	a.logger.Info().Msg("shutting down")

	err := srv.Shutdown(ctx)

	if e := a.sched.Stop(); e != nil {
		err = errors.Join(err, e)
	}

	// 在途 fork 任务保持 RUNNING，下次启动时恢复
	done := make(chan struct{})

	go func() {
		a.Services.Fork.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn().Msg("fork jobs still running at shutdown")
	}

	if e := tracing.ShutdownTracer(ctx); e != nil {
		err = errors.Join(err, e)
	}

	return errors.Join(err, a.manager.Close())
}
