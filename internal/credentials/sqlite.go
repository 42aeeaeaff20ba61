package credentials

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/example/cookieauth/internal/migrations"
	"github.com/samber/oops"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is RFC 3339 with fixed-width nanoseconds so stored
// timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteCollection stores users in a SQLite file.
type SQLiteCollection struct {
	sqlCollection
	path string
}

// OpenSQLite opens (creating if needed) the database at path and migrates it
// to the latest schema.
func OpenSQLite(path string) (*SQLiteCollection, error) {
	dsn := sqliteDSN(path)
	if err := migrations.Apply(migrations.SQLite, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(migrations.SQLite, dsn)
	if err != nil {
		return nil, oops.Code("CREDENTIALS_STORAGE").With("operation", "open").With("path", path).Wrap(err)
	}
	// One writer at a time; concurrent writers would hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &SQLiteCollection{
		sqlCollection: sqlCollection{
			db:          db,
			dialect:     migrations.SQLite,
			placeholder: func(int) string { return "?" },
			isUnique:    sqliteUniqueViolation,
			encodeTime: func(t time.Time) any {
				return t.UTC().Format(sqliteTimeLayout)
			},
		},
		path: path,
	}, nil
}

func (s *SQLiteCollection) Path() string { return s.path }

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

func sqliteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
