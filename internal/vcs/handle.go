package vcs

import (
	"fmt"
	"path/filepath"
)

// Handle identifies one working directory. It holds no repository state and
// is cheap to recreate; every operation takes it as a parameter.
type Handle struct {
	Path string
}

// NewHandle returns a Handle for the absolute, cleaned form of path.
func NewHandle(path string) (Handle, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Handle{}, fmt.Errorf("resolve repository path %q: %w", path, err)
	}
	return Handle{Path: filepath.Clean(abs)}, nil
}

func (h Handle) String() string {
	return h.Path
}
