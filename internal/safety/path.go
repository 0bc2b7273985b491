package safety

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanRemotePath normalizes a repository-relative, forward-slash path as it
// appears in a remote tree listing. Absolute paths and parent traversal are
// rejected because the result is joined under a local work directory.
func CleanRemotePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("backslashes are not allowed in remote paths: %q", p)
	}

	clean := path.Clean(p)
	switch {
	case clean == ".":
		return "", fmt.Errorf("path resolves to repository root")
	case strings.HasPrefix(clean, "/"):
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// JoinUnder joins a remote-style relative path under root and verifies the
// result stays inside root. The returned path is absolute.
func JoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRemotePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, filepath.FromSlash(cleanRel)))
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
