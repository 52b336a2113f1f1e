package profile

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName.
var ErrInvalidName = errors.New("invalid profile name")

// A profile name becomes a directory under the data root holding that
// shop account's cache, lock and socket, so it stays lowercase and path-safe.
var profileName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

func ValidateName(name string) error {
	if profileName.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use 1-64 lowercase letters, digits, '-' or '_'", ErrInvalidName, name)
}
