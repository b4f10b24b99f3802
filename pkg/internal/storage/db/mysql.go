//go:build !no_mysql

package db

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/yeisme/treevault/pkg/configs"
)

// file_key 最长 1024，varchar 默认长度需容纳完整 key.
const mysqlStringSize = 1024

func init() {
	open := func(dsn string) gorm.Dialector {
		return mysql.New(mysql.Config{
			DSN:               dsn,
			DefaultStringSize: mysqlStringSize,
		})
	}

	RegisterDialectorFactory(configs.MySQL, open)
	RegisterDialectorFactory(configs.MariaDB, open)
}
