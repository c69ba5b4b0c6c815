// Package identity validates the display name a client connects with.
package identity

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
)

const (
	// UsernameParam is the handshake query parameter carrying the display name.
	UsernameParam = "username"
	// MaxDisplayNameLength bounds display names in runes.
	MaxDisplayNameLength = 64
)

var (
	// ErrMissingDisplayName is returned when the handshake has no usable name.
	ErrMissingDisplayName = fmt.Errorf("%w: username required", errdefs.ErrInvalidArgument)
	// ErrDisplayNameTooLong is returned for names over MaxDisplayNameLength.
	ErrDisplayNameTooLong = fmt.Errorf("%w: username too long", errdefs.ErrInvalidArgument)
	// ErrReservedDisplayName is returned for names that belong to the server.
	ErrReservedDisplayName = fmt.Errorf("%w: username reserved", errdefs.ErrInvalidArgument)
)

var validate = validator.New()

// handshake is validated with struct tags.
type handshake struct {
	DisplayName string `validate:"required,max=64"`
}

// DisplayNameFromRequest returns the trimmed username query parameter.
// Names matching any of reserved (case-insensitively) are rejected.
func DisplayNameFromRequest(r *http.Request, reserved ...string) (string, error) {
	return ValidateDisplayName(r.URL.Query().Get(UsernameParam), reserved...)
}

// ValidateDisplayName trims name and checks it against the handshake rules.
func ValidateDisplayName(name string, reserved ...string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validate.Struct(handshake{DisplayName: name}); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return "", fmt.Errorf("validate username: %w", err)
		}
		if verrs[0].Tag() == "max" {
			return "", ErrDisplayNameTooLong
		}
		return "", ErrMissingDisplayName
	}
	for _, r := range reserved {
		if r != "" && strings.EqualFold(name, r) {
			return "", ErrReservedDisplayName
		}
	}
	return name, nil
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
