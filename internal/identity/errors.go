package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrAccessDenied       = errors.New("identity: access denied")
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrConflict           = errors.New("identity: already exists")
)

// AccessDenialError carries enough structured detail for a caller to explain
// a denial to an end user. It matches ErrAccessDenied under errors.Is.
type AccessDenialError struct {
	Reason        string        `json:"reason"`
	RequiredRoles []string      `json:"required_roles,omitempty"`
	RequiredKinds []ContextKind `json:"required_context_types,omitempty"`
	Required      int           `json:"required,omitempty"`
	Found         int           `json:"found,omitempty"`
}

func (e *AccessDenialError) Error() string {
	var b strings.Builder
	b.WriteString("access denied: ")
	b.WriteString(e.Reason)
	if len(e.RequiredRoles) > 0 {
		fmt.Fprintf(&b, " (required roles: %s)", strings.Join(e.RequiredRoles, ", "))
	}
	if len(e.RequiredKinds) > 0 {
		kinds := make([]string, len(e.RequiredKinds))
		for i, k := range e.RequiredKinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&b, " (required context types: %s)", strings.Join(kinds, ", "))
	}
	if e.Required > 0 {
		fmt.Fprintf(&b, " (required %d, found %d)", e.Required, e.Found)
	}
	return b.String()
}

func (e *AccessDenialError) Is(target error) bool { return target == ErrAccessDenied }

// Denial builds a plain AccessDenialError with only a reason.
func Denial(reason string) *AccessDenialError {
	return &AccessDenialError{Reason: reason}
}
