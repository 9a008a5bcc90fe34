package identity

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/asaskevich/govalidator"
	validation "github.com/go-ozzo/ozzo-validation"
)

// ErrValidation is matched (errors.Is) by every *ValidationError.
var ErrValidation = errors.New("validation failed")

const (
	MinUsernameLen = 6
	MaxUsernameLen = 256
	MinPasswordLen = 6
	// MaxPasswordBytes is the longest password bcrypt accepts.
	MaxPasswordBytes = 72
)

var (
	usernameChars  = regexp.MustCompile(`^[a-zA-Z0-9\-._@+]+$`)
	hasDigit       = regexp.MustCompile(`[0-9]`)
	hasLower       = regexp.MustCompile(`[a-z]`)
	hasUpper       = regexp.MustCompile(`[A-Z]`)
	hasNonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9]`)

	// emailFormat checks syntax only; no DNS lookups.
	emailFormat = validation.NewStringRule(govalidator.IsEmail, "must be a valid email address")

	passwordBytes = validation.NewStringRule(func(s string) bool { return len(s) <= MaxPasswordBytes },
		"must be at most 72 bytes long")
)

// Registration is the input to CreateIdentity.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Normalize trims surrounding whitespace from email and username. Passwords are taken as given.
func (r Registration) Normalize() Registration {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	return r
}

// Validate checks the registration shape and the password policy.
// The returned error is a *ValidationError or nil.
func (r Registration) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, emailFormat),
		validation.Field(&r.Username,
			validation.Required,
			validation.Length(MinUsernameLen, MaxUsernameLen),
			validation.Match(usernameChars).Error("may only contain letters, digits and - . _ @ +"),
		),
		validation.Field(&r.Password,
			validation.Required,
			validation.Length(MinPasswordLen, 0),
			passwordBytes,
			validation.Match(hasDigit).Error("must contain at least one digit"),
			validation.Match(hasLower).Error("must contain at least one lowercase letter"),
			validation.Match(hasUpper).Error("must contain at least one uppercase letter"),
			validation.Match(hasNonAlphaNum).Error("must contain at least one non-alphanumeric character"),
		),
	)
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		out := &ValidationError{Fields: make(map[string]string, len(fields))}
		for name, fe := range fields {
			if fe != nil {
				out.Fields[name] = fe.Error()
			}
		}
		return out
	}
	return &ValidationError{Fields: map[string]string{"": err.Error()}}
}

// ValidationError carries per-field messages exactly as the validator produced them.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			parts = append(parts, e.Fields[name])
			continue
		}
		parts = append(parts, name+": "+e.Fields[name])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
