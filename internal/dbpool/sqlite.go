package dbpool

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDialer builds a Dialer producing one dedicated SQLite connection
// per pool slot against the database file at path.
func SQLiteDialer(path string) Dialer {
	dsn := path + "?_busy_timeout=5000"
	return func(ctx context.Context) (Conn, error) {
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("dbpool: opening sqlite %s: %w", path, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("dbpool: dialing sqlite %s: %w", path, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("dbpool: pinging sqlite %s: %w", path, err)
		}
		return &sqlConn{db: db, conn: conn}, nil
	}
}
