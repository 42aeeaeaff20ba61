package credentials

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/example/cookieauth/internal/migrations"
	"github.com/lib/pq"
	"github.com/samber/oops"
)

// PostgresCollection stores users in PostgreSQL.
type PostgresCollection struct {
	sqlCollection
}

// OpenPostgres connects to dsn, verifies the connection and migrates the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresCollection, error) {
	db, err := sql.Open(migrations.Postgres, dsn)
	if err != nil {
		return nil, oops.Code("CREDENTIALS_STORAGE").With("operation", "open").Wrap(err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("CREDENTIALS_STORAGE").With("operation", "ping").Wrap(err)
	}
	if err := migrations.Apply(migrations.Postgres, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresCollection{
		sqlCollection: sqlCollection{
			db:          db,
			dialect:     migrations.Postgres,
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			isUnique:    postgresUniqueViolation,
			encodeTime:  func(t time.Time) any { return t.UTC() },
		},
	}, nil
}

func postgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}
