package credentials

import "context"

// Collection is the storage contract for the users collection. Records are
// passed and returned by copy.
type Collection interface {
	// FindOne returns the first record matching p, or ErrNotFound.
	FindOne(ctx context.Context, p Predicate) (*User, error)
	// Find returns every record matching p, oldest first.
	Find(ctx context.Context, p Predicate) ([]*User, error)
	// Insert stores u unless its id, email or non-empty username is taken,
	// in which case it returns ErrConflict.
	Insert(ctx context.Context, u *User) error
	// Update replaces the record with u.ID, or returns ErrNotFound.
	Update(ctx context.Context, u *User) error
	// RemoveAll deletes every record matching p and reports how many.
	RemoveAll(ctx context.Context, p Predicate) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
