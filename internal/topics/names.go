package topics

import (
	"regexp"
	"strings"

	"philcali.me/notify/internal/exceptions"
)

const (
	MaxNameLength = 256
	FifoSuffix    = ".fifo"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName allows 1-256 characters of letters, digits, hyphens and
// underscores, optionally ending with ".fifo".
func ValidateName(name string) error {
	if name == "" {
		return exceptions.InvalidName(name, "name must not be empty")
	}
	if len(name) > MaxNameLength {
		return exceptions.InvalidName(name, "name must be at most 256 characters")
	}
	base := strings.TrimSuffix(name, FifoSuffix)
	if !namePattern.MatchString(base) {
		return exceptions.InvalidName(name, "only letters, digits, hyphens and underscores are allowed")
	}
	return nil
}
