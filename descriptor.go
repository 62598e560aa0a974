package repospawn

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
)

// DefaultDescriptors are the build descriptor file names recognized at the
// root of a fetched repository.
var DefaultDescriptors = []string{"Dockerfile", ".nbrunnerdockerfile"}

// SelectDescriptor returns the name of the build descriptor to use for the
// tree in dir. Only regular files whose name is in names are candidates; when
// several exist the lexicographically greatest name wins, so the choice does
// not depend on directory listing order.
//
// It returns a *NoDescriptorError naming repo when no candidate exists.
func SelectDescriptor(dir string, names []string, repo string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read build context %s: %w", dir, err)
	}

	var found []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() && !isRegularFile(filepath.Join(dir, entry.Name())) {
			continue
		}
		if slices.Contains(names, entry.Name()) {
			found = append(found, entry.Name())
		}
	}

	if len(found) == 0 {
		return "", &NoDescriptorError{Repo: repo, Names: names}
	}

	sort.Strings(found)
	return found[len(found)-1], nil
}

// isRegularFile reports whether path resolves to a regular file. It lets a
// symlinked descriptor count as present.
func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
