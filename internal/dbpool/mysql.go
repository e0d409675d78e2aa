package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// sqlConn adapts one dedicated *sql.Conn (backed by a *sql.DB pinned to
// SetMaxOpenConns(1)) to the Conn interface. Shared by MySQLDialer below
// and SQLiteDialer in sqlite.go; the only backend-specific part is how the DSN
// is built and which driver name is registered.
type sqlConn struct {
	db   *sql.DB
	conn *sql.Conn
}

func (c *sqlConn) IsValid(ctx context.Context) bool {
	return c.conn.PingContext(ctx) == nil
}

func (c *sqlConn) Close() error {
	err := c.conn.Close()
	if dbErr := c.db.Close(); dbErr != nil && err == nil {
		err = dbErr
	}
	return err
}

// Execute runs sql against the connection, classifying it as a query
// (SELECT-shaped, fills Columns/Rows) or a statement (fills
// AffectedRows/LastInsertID), per the original DBExecutor's
// MakeResultJson() shapes.
func (c *sqlConn) Execute(ctx context.Context, query string, out *Result) (bool, error) {
	if looksLikeQuery(query) {
		return c.executeQuery(ctx, query, out)
	}
	return c.executeStatement(ctx, query, out)
}

func looksLikeQuery(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "SHOW") ||
		strings.HasPrefix(trimmed, "DESCRIBE") || strings.HasPrefix(trimmed, "EXPLAIN")
}

func (c *sqlConn) executeQuery(ctx context.Context, query string, out *Result) (bool, error) {
	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		out.Success = false
		out.ErrorMsg = err.Error()
		return false, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		out.Success = false
		out.ErrorMsg = err.Error()
		return false, nil
	}

	var result [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			out.Success = false
			out.ErrorMsg = err.Error()
			return false, nil
		}
		result = append(result, normalizeRow(raw))
	}
	if err := rows.Err(); err != nil {
		out.Success = false
		out.ErrorMsg = err.Error()
		return false, nil
	}

	out.Success = true
	out.Kind = "result_set"
	out.Columns = cols
	out.Rows = result
	return true, nil
}

// normalizeRow stringifies every column value, per spec: NULL becomes "".
func normalizeRow(raw []any) []string {
	row := make([]string, len(raw))
	for i, v := range raw {
		switch val := v.(type) {
		case nil:
			row[i] = ""
		case []byte:
			row[i] = string(val)
		default:
			row[i] = fmt.Sprintf("%v", val)
		}
	}
	return row
}

func (c *sqlConn) executeStatement(ctx context.Context, query string, out *Result) (bool, error) {
	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		out.Success = false
		out.ErrorMsg = err.Error()
		return false, nil
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()

	out.Success = true
	out.Kind = "exec_result"
	out.AffectedRows = affected
	out.LastInsertID = lastID
	return true, nil
}

// MySQLDialer builds a Dialer producing one dedicated MySQL connection
// per pool slot, for the given host/port/user/password/database.
func MySQLDialer(host string, port int, user, password, database string) Dialer {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, password, host, port, database)
	return func(ctx context.Context) (Conn, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("dbpool: opening mysql %s: %w", dsn, err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		conn, err := db.Conn(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("dbpool: dialing mysql %s: %w", dsn, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			db.Close()
			return nil, fmt.Errorf("dbpool: pinging mysql %s: %w", dsn, err)
		}
		return &sqlConn{db: db, conn: conn}, nil
	}
}
