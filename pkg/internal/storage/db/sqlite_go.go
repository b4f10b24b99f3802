//go:build !no_sqlite && !cgo

package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/configs"
)

// 纯 Go 驱动，交叉编译时使用.
func init() {
	RegisterDialectorFactory(configs.SQLite, func(dsn string) gorm.Dialector {
		return sqlite.Open(withSQLiteParams(dsn,
			fmt.Sprintf("_pragma=busy_timeout(%d)", sqliteBusyTimeoutMS),
			"_pragma=foreign_keys(1)",
		))
	})
}
