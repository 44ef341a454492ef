// tools/jail.go
package tools

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a path resolves outside the root dir
var ErrPathTraversal = errors.New("path traversal attempt detected")

// jailedJoin joins a model-supplied path onto root and refuses anything that
// resolves outside it. Absolute paths are taken relative to root.
func jailedJoin(root, userPath string) (string, error) {
	if root == "" {
		return "", errors.New("root directory is not configured")
	}
	rel := userPath
	if filepath.IsAbs(rel) {
		rel = strings.TrimPrefix(rel, filepath.VolumeName(rel))
		rel = strings.TrimLeft(rel, `/\`)
	}
	joined := filepath.Join(root, rel)

	ok, err := jailContains(root, joined)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// jailContains reports whether other resolves inside jail. Paths that do not
// exist yet are judged by their nearest existing ancestor.
func jailContains(jail, other string) (bool, error) {
	canonicalJail, err := filepath.EvalSymlinks(jail)
	if err != nil {
		return false, err
	}
	canonicalJail, err = filepath.Abs(canonicalJail)
	if err != nil {
		return false, err
	}

	for {
		if _, err := os.Lstat(other); err == nil {
			break
		}
		parent := filepath.Dir(other)
		if parent == other {
			return false, nil
		}
		other = parent
	}

	canonicalOther, err := filepath.EvalSymlinks(other)
	if err != nil {
		return false, err
	}
	canonicalOther, err = filepath.Abs(canonicalOther)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(canonicalJail, canonicalOther)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}
