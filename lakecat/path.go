package lakecat

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// PathResolver converts between absolute file locations and identifiers
// relative to a lake root.
//
// Every path written into a FileManifest passes through ToRelative, and every
// physical access goes through ToAbsolute. Stored metadata therefore never
// depends on where the lake is mounted.
type PathResolver struct {
	root string
}

// NewPathResolver creates a resolver for the given lake root. The root is
// made absolute and cleaned.
func NewPathResolver(lakeRoot string) (*PathResolver, error) {
	if strings.TrimSpace(lakeRoot) == "" {
		return nil, fmt.Errorf("lakecat: lake root is required")
	}
	abs, err := filepath.Abs(lakeRoot)
	if err != nil {
		return nil, fmt.Errorf("lakecat: resolve lake root %q: %w", lakeRoot, err)
	}
	return &PathResolver{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute lake root.
func (r *PathResolver) Root() string {
	return r.root
}

// Relocate returns a resolver for the same lake mounted at newRoot. Relative
// paths already in the catalog resolve under the new root unchanged.
func (r *PathResolver) Relocate(newRoot string) (*PathResolver, error) {
	return NewPathResolver(newRoot)
}

// ToRelative converts an absolute path under the lake root into a
// slash-separated relative path. Paths outside the root fail with
// *PathOutsideLakeError.
func (r *PathResolver) ToRelative(absPath string) (string, error) {
	if !filepath.IsAbs(absPath) {
		return "", &PathOutsideLakeError{Path: absPath, Root: r.root, Reason: "expected an absolute path"}
	}
	rel, err := filepath.Rel(r.root, filepath.Clean(absPath))
	if err != nil {
		return "", &PathOutsideLakeError{Path: absPath, Root: r.root, Reason: err.Error()}
	}
	if rel == "." {
		return "", &PathOutsideLakeError{Path: absPath, Root: r.root, Reason: "path is the lake root itself"}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathOutsideLakeError{Path: absPath, Root: r.root, Reason: "not a descendant of the lake root"}
	}
	return filepath.ToSlash(rel), nil
}

// ToAbsolute converts a relative path into a path under the lake root.
// Absolute or escaping input fails with *PathOutsideLakeError.
func (r *PathResolver) ToAbsolute(relPath string) (string, error) {
	if err := r.checkRelative(relPath); err != nil {
		return "", err
	}
	return filepath.Join(r.root, filepath.FromSlash(relPath)), nil
}

// IsRelative reports whether p is a portable relative path that resolves
// under the lake root. Every path returned by ToRelative satisfies it.
func (r *PathResolver) IsRelative(p string) bool {
	return r.checkRelative(p) == nil
}

// Check validates p as a stored relative path and returns the reason it is
// not one.
func (r *PathResolver) Check(p string) error {
	return r.checkRelative(p)
}

// checkRelative rejects paths carrying the lake root. An absolute root
// always begins with a separator or a volume marker, so those rules cover
// a leaked root; a relative path whose directories happen to repeat the
// root's names is legitimate.
func (r *PathResolver) checkRelative(p string) error {
	if reason := relativeViolation(p); reason != "" {
		return &PathOutsideLakeError{Path: p, Root: r.root, Reason: reason}
	}
	return nil
}

// IsRelativePath reports whether p is a portable relative path: no leading
// separator, no drive or volume marker, no URL scheme, no ".." escape, and
// already in clean form so that one file has exactly one spelling.
func IsRelativePath(p string) bool {
	return relativeViolation(p) == ""
}

// relativeViolation returns why p is not a portable relative path, or "".
func relativeViolation(p string) string {
	switch {
	case p == "":
		return "empty path"
	case strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`):
		return "absolute path"
	case hasDriveLetter(p):
		return "path carries a drive or volume marker"
	case strings.Contains(p, "://"):
		return "path carries a URL scheme"
	case strings.Contains(p, `\`):
		return "path uses backslash separators"
	}
	clean := path.Clean(p)
	if clean == "." {
		return "path resolves to the lake root"
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "path escapes the lake root"
	}
	if clean != p {
		return fmt.Sprintf("path is not in clean form (want %q)", clean)
	}
	return ""
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
