package credentials

// Field names a searchable user attribute.
type Field string

const (
	FieldID           Field = "id"
	FieldEmail        Field = "email"
	FieldUsername     Field = "username"
	FieldRefreshToken Field = "refresh_token"
)

// Term matches records whose Field equals Value.
type Term struct {
	Field Field
	Value string
}

// Predicate matches a record when any of its terms match. The zero Predicate
// matches every record.
type Predicate struct {
	Any []Term
}

// Where matches a single field.
func Where(f Field, v string) Predicate {
	return Predicate{Any: []Term{{Field: f, Value: v}}}
}

// AnyOf matches when at least one term matches.
func AnyOf(terms ...Term) Predicate {
	return Predicate{Any: terms}
}

func (p Predicate) All() bool {
	return len(p.Any) == 0
}

// Match evaluates p against u. Empty values never match, so an unset username
// or refresh token cannot be found by searching for "".
func (p Predicate) Match(u *User) bool {
	if p.All() {
		return true
	}
	for _, t := range p.Any {
		if t.Value == "" {
			continue
		}
		if fieldValue(u, t.Field) == t.Value {
			return true
		}
	}
	return false
}

func fieldValue(u *User, f Field) string {
	switch f {
	case FieldID:
		return u.ID
	case FieldEmail:
		return u.Email
	case FieldUsername:
		return u.Username
	case FieldRefreshToken:
		return u.RefreshToken
	default:
		return ""
	}
}

func (f Field) valid() bool {
	switch f {
	case FieldID, FieldEmail, FieldUsername, FieldRefreshToken:
		return true
	}
	return false
}
