//go:build !no_sqlite && cgo

package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/configs"
)

func init() {
	RegisterDialectorFactory(configs.SQLite, func(dsn string) gorm.Dialector {
		return sqlite.Open(withSQLiteParams(dsn,
			fmt.Sprintf("_busy_timeout=%d", sqliteBusyTimeoutMS),
			"_foreign_keys=1",
		))
	})
}
