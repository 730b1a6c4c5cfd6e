package walker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// WalkFunc receives every regular file under the root together with the
// ambient cover of its directory, or nil when the directory has none.
// Returning an error aborts the walk.
type WalkFunc func(path string, ambientCover []byte) error

// Candidates for directory-level cover art, case-sensitive, first match
// wins.
var coverCandidates = []string{"cover.jpg", "cover.png", "Cover.jpg", "Cover.png"}

// Walk enumerates root depth-first. The ambient cover is resolved once
// per directory and shared by every file callback in it. Unreadable
// subtrees are skipped, not fatal; symlinked directories are never
// followed, which also breaks link cycles. Sibling order is whatever
// the filesystem enumeration yields.
func Walk(root string, exclude *regexp.Regexp, fn WalkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", root)
	}

	return walkDir(root, exclude, fn)
}

func walkDir(dir string, exclude *regexp.Regexp, fn WalkFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}

	ambientCover := readAmbientCover(dir)

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if exclude != nil && exclude.MatchString(path) {
			continue
		}

		switch {
		case entry.IsDir():
			if err := walkDir(path, exclude, fn); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := fn(path, ambientCover); err != nil {
				return err
			}
		}
	}

	return nil
}

func readAmbientCover(dir string) []byte {
	for _, name := range coverCandidates {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil && len(data) > 0 {
			return data
		}
	}

	return nil
}
