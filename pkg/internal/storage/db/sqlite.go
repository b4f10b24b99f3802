package db

import "strings"

// sqliteBusyTimeoutMS 并发写入时等待锁的毫秒数.
const sqliteBusyTimeoutMS = 5000

// withSQLiteParams 在 DSN 未携带参数时追加驱动参数.
func withSQLiteParams(dsn string, params ...string) string {
	if strings.Contains(dsn, "?") || len(params) == 0 {
		return dsn
	}

	return dsn + "?" + strings.Join(params, "&")
}
