package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
)

const userColumns = `id, email, username, password_hash, refresh_token, created_at`

// sqlCollection implements Collection over database/sql. The dialect supplies
// placeholders and unique-violation detection.
type sqlCollection struct {
	db          *sql.DB
	dialect     string
	placeholder func(n int) string
	isUnique    func(err error) bool
	encodeTime  func(t time.Time) any
}

func (s *sqlCollection) FindOne(ctx context.Context, p Predicate) (*User, error) {
	where, args, err := s.where(p)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY created_at, id LIMIT 1`, args...)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("find_one", err)
	}
	return u, nil
}

func (s *sqlCollection) Find(ctx context.Context, p Predicate) ([]*User, error) {
	where, args, err := s.where(p)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users`+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, s.wrap("find", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.wrap("find", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("find", err)
	}
	return users, nil
}

func (s *sqlCollection) Insert(ctx context.Context, u *User) error {
	q := fmt.Sprintf(`INSERT INTO users (%s) VALUES (%s, %s, %s, %s, %s, %s)`, userColumns,
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
		s.placeholder(4), s.placeholder(5), s.placeholder(6))
	_, err := s.db.ExecContext(ctx, q,
		u.ID, u.Email, nullable(u.Username), u.PasswordHash, nullable(u.RefreshToken), s.encodeTime(u.CreatedAt))
	if err != nil {
		if s.isUnique(err) {
			return ErrConflict
		}
		return s.wrap("insert", err)
	}
	return nil
}

func (s *sqlCollection) Update(ctx context.Context, u *User) error {
	q := fmt.Sprintf(`UPDATE users SET email = %s, username = %s, password_hash = %s, refresh_token = %s WHERE id = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
	res, err := s.db.ExecContext(ctx, q,
		u.Email, nullable(u.Username), u.PasswordHash, nullable(u.RefreshToken), u.ID)
	if err != nil {
		if s.isUnique(err) {
			return ErrConflict
		}
		return s.wrap("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("update", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlCollection) RemoveAll(ctx context.Context, p Predicate) (int, error) {
	where, args, err := s.where(p)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users`+where, args...)
	if err != nil {
		return 0, s.wrap("remove_all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrap("remove_all", err)
	}
	return int(n), nil
}

func (s *sqlCollection) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

func (s *sqlCollection) Close() error {
	return s.db.Close()
}

// where renders p as a WHERE clause. Terms with empty values are dropped; a
// predicate left with no terms matches nothing.
func (s *sqlCollection) where(p Predicate) (string, []any, error) {
	if p.All() {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	for _, t := range p.Any {
		if !t.Field.valid() {
			return "", nil, oops.Code("CREDENTIALS_PREDICATE").With("field", t.Field).Errorf("unknown field %q", t.Field)
		}
		if t.Value == "" {
			continue
		}
		args = append(args, t.Value)
		clauses = append(clauses, fmt.Sprintf("%s = %s", t.Field, s.placeholder(len(args))))
	}
	if len(clauses) == 0 {
		return " WHERE 1 = 0", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " OR "), args, nil
}

func (s *sqlCollection) wrap(op string, err error) error {
	return oops.Code("CREDENTIALS_STORAGE").
		With("operation", op).
		With("dialect", s.dialect).
		Wrap(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*User, error) {
	var (
		u        User
		username sql.NullString
		refresh  sql.NullString
		created  timeValue
	)
	if err := r.Scan(&u.ID, &u.Email, &username, &u.PasswordHash, &refresh, &created); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.RefreshToken = refresh.String
	u.CreatedAt = created.t
	return &u, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timeValue scans timestamps stored either natively or as RFC 3339 text.
type timeValue struct {
	t time.Time
}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case time.Time:
		v.t = x.UTC()
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	case nil:
		v.t = time.Time{}
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (v *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	v.t = t.UTC()
	return nil
}
