package validation

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 20
	MinPasswordLength = 8
	// MaxPasswordBytes is bcrypt's input limit.
	MaxPasswordBytes = 72
)

// Registration is validated input for creating a user.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"user_name"`
	Password string `json:"password"`
}

// Login is validated input for authenticating.
type Login struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
}

// ResetRequest asks for a password reset link.
type ResetRequest struct {
	Email string `json:"email"`
}

// NewPassword completes a password reset.
type NewPassword struct {
	Password string `json:"password"`
}

func Register(in Registration) Result[Registration] {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)

	var errs []FieldError
	if fe, ok := checkEmail("email", in.Email); !ok {
		errs = append(errs, fe)
	}
	if fe, ok := checkUsername("user_name", in.Username); !ok {
		errs = append(errs, fe)
	}
	if fe, ok := checkPassword("password", in.Password); !ok {
		errs = append(errs, fe)
	}
	if len(errs) > 0 {
		return Err[Registration](errs...)
	}
	return Ok(in)
}

// LoginInput accepts a credential that is either an email or a username.
func LoginInput(in Login) Result[Login] {
	in.Credential = strings.TrimSpace(in.Credential)

	var errs []FieldError
	_, emailOK := checkEmail("credential", in.Credential)
	_, nameOK := checkUsername("credential", in.Credential)
	if in.Credential == "" || (!emailOK && !nameOK) {
		errs = append(errs, FieldError{Field: "credential", Message: "Credential must be an email or a username."})
	}
	if fe, ok := checkPassword("password", in.Password); !ok {
		errs = append(errs, fe)
	}
	if len(errs) > 0 {
		return Err[Login](errs...)
	}
	return Ok(in)
}

func Reset(in ResetRequest) Result[ResetRequest] {
	in.Email = strings.TrimSpace(in.Email)
	if fe, ok := checkEmail("email", in.Email); !ok {
		return Err[ResetRequest](fe)
	}
	return Ok(in)
}

func Password(in NewPassword) Result[NewPassword] {
	if fe, ok := checkPassword("password", in.Password); !ok {
		return Err[NewPassword](fe)
	}
	return Ok(in)
}

func checkEmail(field, v string) (FieldError, bool) {
	addr, err := mail.ParseAddress(v)
	// ParseAddress accepts "Name <a@b>"; only the bare address is allowed.
	if err != nil || addr.Address != v || !strings.Contains(v[strings.LastIndex(v, "@")+1:], ".") {
		return FieldError{Field: field, Message: "Invalid email address."}, false
	}
	return FieldError{}, true
}

func checkUsername(field, v string) (FieldError, bool) {
	if utf8.RuneCountInString(v) > MaxUsernameLength {
		return FieldError{Field: field, Message: "Username must be at most 20 characters long."}, false
	}
	if strings.Contains(v, "@") {
		return FieldError{Field: field, Message: "Username must not contain '@'."}, false
	}
	return FieldError{}, true
}

func checkPassword(field, v string) (FieldError, bool) {
	if len(v) < MinPasswordLength {
		return FieldError{Field: field, Message: "Password must be at least 8 characters long."}, false
	}
	if len(v) > MaxPasswordBytes {
		return FieldError{Field: field, Message: "Password must be at most 72 characters long."}, false
	}
	var letter, digit bool
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			return FieldError{Field: field, Message: "Password must contain only letters and numbers."}, false
		}
	}
	if !letter || !digit {
		return FieldError{Field: field, Message: "Password must contain at least one letter and one number."}, false
	}
	return FieldError{}, true
}
