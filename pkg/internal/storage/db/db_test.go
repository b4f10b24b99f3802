package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yeisme/treevault/pkg/configs"
)

func TestRegisteredDialectors(t *testing.T) {
	types := GetRegisteredDBTypes()
	for _, want := range []configs.DBType{configs.SQLite, configs.MySQL, configs.MariaDB, configs.PostgreSQL, configs.Pg} {
		assert.Contains(t, types, want)
	}
}

func TestWithSQLiteParams(t *testing.T) {
	assert.Equal(t, "file:tv.db?a=1&b=2", withSQLiteParams("file:tv.db", "a=1", "b=2"))
	assert.Equal(t, "file::memory:?cache=shared", withSQLiteParams("file::memory:?cache=shared", "a=1"))
	assert.Equal(t, "file:tv.db", withSQLiteParams("file:tv.db"))
}

func TestOpenSQLite(t *testing.T) {
	factory := dialectorFactories[configs.SQLite]
	if !assert.NotNil(t, factory) {
		return
	}

	cfg := configs.DBConfig{Type: configs.SQLite, Database: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}

	gdb, err := open(t.Context(), factory(cfg.GetDSN()), nil, cfg)
	if !assert.NoError(t, err) {
		return
	}

	c := &Client{DB: gdb}
	t.Cleanup(func() {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	assert.NoError(t, c.Migrate(t.Context()))
	assert.NoError(t, c.Ping(t.Context()))
	assert.Same(t, gdb, c.GetDB())
}
