// Package attachment validates attachment references before they are sent.
package attachment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidRef means the reference carried no usable path.
	ErrInvalidRef = errors.New("attachment.path is required")
	// ErrMissing means the path does not name a readable regular file.
	ErrMissing = errors.New("attachment not found")
	// ErrOutsideRoot means the path escapes the allowed attachment directory.
	ErrOutsideRoot = errors.New("attachment outside allowed directory")
)

// Ref points at a local file to attach. Valid is false when the inbound
// path was absent or not a string.
type Ref struct {
	Path  string
	Valid bool
}

// NewRef wraps a path taken from a well-formed request.
func NewRef(path string) Ref {
	return Ref{Path: path, Valid: true}
}

// ValidatedPath is an absolute path that was readable at resolve time.
type ValidatedPath string

// Resolver checks references against the filesystem on every call; results
// are never cached because files come and go between requests.
type Resolver struct {
	// AllowedDir confines attachments below a directory. Empty allows any path.
	AllowedDir string
}

// Resolve validates ref and returns its absolute path.
func (r Resolver) Resolve(ref Ref) (ValidatedPath, error) {
	if !ref.Valid || strings.TrimSpace(ref.Path) == "" {
		return "", ErrInvalidRef
	}

	absPath, err := filepath.Abs(ref.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, err)
	}

	if r.AllowedDir != "" {
		allowedAbs, err := filepath.Abs(r.AllowedDir)
		if err != nil {
			return "", fmt.Errorf("invalid allowed dir: %w", err)
		}
		if !strings.HasPrefix(absPath, allowedAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref.Path)
		}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissing, ref.Path)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrMissing, ref.Path)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not readable", ErrMissing, ref.Path)
	}
	f.Close()

	return ValidatedPath(absPath), nil
}
