package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SolSoCoG/mirage/internal/session"
)

// SQLError carries a MySQL-shaped error the wire engine can encode
// directly into an ERR packet.
type SQLError struct {
	Code    uint16
	State   string
	Message string
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("ERROR %d (%s): %s", e.Code, e.State, e.Message)
}

func syntaxError(near string) *SQLError {
	if len(near) > 20 {
		near = near[:20]
	}
	return &SQLError{Code: 1064, State: "42000", Message: fmt.Sprintf("You have an error in your SQL syntax near '%s'", near)}
}

type sqlTable struct {
	columns []string
	rows    [][]string
}

// SQL answers SQL text with structured results over a seeded schema. The
// current database lives on the session so USE survives across packets.
type SQL struct {
	connector
	databases []string
	tables    map[string][]string    // db -> table names
	data      map[string]sqlTable    // table name -> contents
	version   string
}

// NewSQL seeds the emulated schema.
func NewSQL(sessions *session.Registry) *SQL {
	return &SQL{
		connector: connector{sessions: sessions},
		version:   "8.0.35",
		databases: []string{"information_schema", "mysql", "performance_schema", "sys", "webapp"},
		tables: map[string][]string{
			"webapp": {"users", "sessions", "api_keys", "payments"},
			"mysql":  {"user", "db"},
		},
		data: map[string]sqlTable{
			"users": {
				columns: []string{"id", "username", "email", "password_hash", "created_at"},
				rows: [][]string{
					{"1", "admin", "admin@corp.local", "$2y$10$N9qo8uLOickgx2ZMRZoMye", "2022-03-11 09:14:02"},
					{"2", "jsmith", "j.smith@corp.local", "$2y$10$Xp0TzF1xk9pQeWsvbNqOe", "2022-06-30 17:22:45"},
					{"3", "deploy", "deploy@corp.local", "$2y$10$Rw2aH7vLQm4yTzUuCiBXa", "2023-01-08 11:03:19"},
				},
			},
			"api_keys": {
				columns: []string{"id", "user_id", "key", "scope"},
				rows: [][]string{
					{"1", "1", "ak_live_9f2c77d1b44e", "admin"},
					{"2", "3", "ak_live_02ab4cd98e11", "deploy"},
				},
			},
			"sessions": {
				columns: []string{"id", "user_id", "token", "expires_at"},
				rows: [][]string{
					{"1", "1", "sess_b8d11f0a", "2024-12-01 00:00:00"},
				},
			},
			"payments": {
				columns: []string{"id", "user_id", "amount", "status"},
				rows: [][]string{
					{"1", "2", "149.00", "settled"},
					{"2", "2", "12.50", "refunded"},
				},
			},
		},
	}
}

// Request implements ResponseGenerator; no HTTP surface.
func (q *SQL) Request(_ context.Context, _ RequestInfo, _ *session.Session) (Response, error) {
	return Response{}, ErrNotFound
}

// Query implements ResponseGenerator.
func (q *SQL) Query(_ context.Context, sql string, s *session.Session) (Response, error) {
	sql = strings.TrimRight(strings.TrimSpace(sql), ";")
	upper := strings.ToUpper(sql)

	switch {
	case upper == "":
		return Response{}, nil

	case upper == "SHOW DATABASES":
		rows := make([][]string, len(q.databases))
		for i, d := range q.databases {
			rows[i] = []string{d}
		}
		return Response{Columns: []string{"Database"}, Rows: rows}, nil

	case strings.HasPrefix(upper, "USE "):
		db := strings.Trim(strings.TrimSpace(sql[4:]), "`'\"")
		for _, d := range q.databases {
			if strings.EqualFold(db, d) {
				s.SetExt("database", d)
				return Response{Output: "Database changed"}, nil
			}
		}
		return Response{}, &SQLError{Code: 1049, State: "42000", Message: fmt.Sprintf("Unknown database '%s'", db)}

	case upper == "SHOW TABLES":
		db := s.Ext("database")
		if db == "" {
			return Response{}, &SQLError{Code: 1046, State: "3D000", Message: "No database selected"}
		}
		tables := q.tables[db]
		rows := make([][]string, len(tables))
		for i, t := range tables {
			rows[i] = []string{t}
		}
		return Response{Columns: []string{"Tables_in_" + db}, Rows: rows}, nil

	case strings.HasPrefix(upper, "SELECT VERSION"):
		return Response{Columns: []string{"version()"}, Rows: [][]string{{q.version}}}, nil

	case strings.HasPrefix(upper, "SELECT USER"), strings.HasPrefix(upper, "SELECT CURRENT_USER"):
		return Response{Columns: []string{"user()"}, Rows: [][]string{{"root@localhost"}}}, nil

	case strings.HasPrefix(upper, "SELECT DATABASE"):
		db := s.Ext("database")
		if db == "" {
			db = "NULL"
		}
		return Response{Columns: []string{"database()"}, Rows: [][]string{{db}}}, nil

	case strings.HasPrefix(upper, "SELECT NOW"):
		return Response{Columns: []string{"now()"}, Rows: [][]string{{time.Now().Format("2006-01-02 15:04:05")}}}, nil

	case upper == "SELECT 1":
		return Response{Columns: []string{"1"}, Rows: [][]string{{"1"}}}, nil

	case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "DESCRIBE"), strings.HasPrefix(upper, "DESC "):
		for name, t := range q.data {
			if !strings.Contains(upper, strings.ToUpper(name)) {
				continue
			}
			rows := t.rows
			if idx := strings.Index(upper, "LIMIT"); idx >= 0 {
				lim := 0
				fmt.Sscanf(strings.TrimSpace(upper[idx+5:]), "%d", &lim)
				if lim >= 0 && lim < len(rows) {
					rows = rows[:lim]
				}
			}
			return Response{Columns: t.columns, Rows: rows}, nil
		}
		// Unknown relation: empty set with a single placeholder column,
		// the shape clients tolerate best.
		return Response{Columns: []string{"result"}}, nil

	case strings.HasPrefix(upper, "INSERT"), strings.HasPrefix(upper, "UPDATE"), strings.HasPrefix(upper, "DELETE"):
		return Response{Output: "Query OK, 1 row affected"}, nil

	case strings.HasPrefix(upper, "CREATE"), strings.HasPrefix(upper, "DROP"), strings.HasPrefix(upper, "ALTER"),
		strings.HasPrefix(upper, "SET"), strings.HasPrefix(upper, "BEGIN"), strings.HasPrefix(upper, "COMMIT"),
		strings.HasPrefix(upper, "ROLLBACK"):
		return Response{Output: "Query OK, 0 rows affected"}, nil

	case strings.HasPrefix(upper, "SHOW"):
		return Response{Columns: []string{"result"}}, nil
	}

	return Response{}, syntaxError(sql)
}
