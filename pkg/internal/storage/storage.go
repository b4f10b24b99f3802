// Package storage 聚合文件树引擎使用的外部资源：数据库、对象存储、锁服务、消息队列与沙箱网关.
//
// Example:
//
// 初始化
//
//	ctx := context.Background()
//	mgr, err := storage.Init(ctx)
//	if err != nil {
//	    // 处理错误
//	}
//
// 获取存储客户端
//
//	dbClient := mgr.GetDBClient()
//	locker := mgr.GetLocker()
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/yeisme/treevault/pkg/configs"
	dbc "github.com/yeisme/treevault/pkg/internal/storage/db"
	kvc "github.com/yeisme/treevault/pkg/internal/storage/kv"
	"github.com/yeisme/treevault/pkg/internal/storage/lock"
	mqc "github.com/yeisme/treevault/pkg/internal/storage/mq"
	s3c "github.com/yeisme/treevault/pkg/internal/storage/s3"
	"github.com/yeisme/treevault/pkg/internal/storage/sandbox"
	nlog "github.com/yeisme/treevault/pkg/log"
)

// Manager 聚合所有存储资源.
type Manager struct {
	S3      *s3c.Client
	DB      *dbc.Client
	KV      *kvc.Client
	Lock    *lock.Locker
	MQ      *mqc.Client
	Sandbox *sandbox.Client
}

var (
	mgr     *Manager
	mgrErr  error
	mgrOnce sync.Once
)

// Init 初始化默认存储，使用全局配置.重复调用只返回已初始化实例.
func Init(ctx context.Context) (*Manager, error) {
	mgrOnce.Do(func() {
		mgr, mgrErr = build(ctx)
		if mgrErr == nil {
			nlog.Logger().Info().Msg("storage manager initialized")
		}
	})

	return mgr, mgrErr
}

func build(ctx context.Context) (*Manager, error) {
	cfg := configs.GetConfig()
	m := &Manager{}

	var err error

	if m.DB, err = dbc.New(ctx); err != nil {
		return nil, err
	}

	if m.S3, err = s3c.New(ctx); err != nil {
		return nil, err
	}

	if m.KV, err = kvc.NewKVClient(ctx); err != nil {
		return nil, err
	}

	m.Lock = lock.New(m.KV, cfg.Lock)

	if m.MQ, err = mqc.New(ctx); err != nil {
		return nil, err
	}

	if cfg.Sandbox.Enabled {
		m.Sandbox = sandbox.New(cfg.Sandbox, cfg.CircuitBreaker)
	}

	return m, nil
}

// GetS3Client 获取 S3 客户端.
func (m *Manager) GetS3Client() *s3c.Client {
	return m.S3
}

// GetDBClient 获取 DB 客户端.
func (m *Manager) GetDBClient() *dbc.Client {
	return m.DB
}

// GetKVClient 获取 KV 客户端.
func (m *Manager) GetKVClient() *kvc.Client {
	return m.KV
}

// GetLocker 获取项目锁.
func (m *Manager) GetLocker() *lock.Locker {
	return m.Lock
}

// GetMQClient 获取 MQ 客户端.
func (m *Manager) GetMQClient() *mqc.Client {
	return m.MQ
}

// GetSandboxClient 获取沙箱网关客户端，未启用时为 nil.
func (m *Manager) GetSandboxClient() *sandbox.Client {
	return m.Sandbox
}

// Close 释放连接.
func (m *Manager) Close() error {
	var errs []error

	if m.MQ != nil {
		errs = append(errs, m.MQ.Close())
	}

	if m.KV != nil {
		errs = append(errs, m.KV.Close())
	}

	if m.DB != nil {
		if sqlDB, err := m.DB.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}

	return errors.Join(errs...)
}
