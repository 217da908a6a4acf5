// Package resultactions stages a completed iteration's declared
// artifacts into the request's results/ directory, and removes
// artifacts the next iteration must regenerate from scratch.
package resultactions

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/shambakey1/vifinode/pkg/log"
)

const (
	ActionCopy = "copy"
	ActionMove = "move"
)

// Apply runs the ordered action list for every declared result
// pattern against reqDir, staging matches into resultsDir. A pattern
// with no matches is a non-fatal log entry, not a failure.
func Apply(reqDir, resultsDir string, results map[string][]string) error {
	patterns := make([]string, 0, len(results))
	for p := range results {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(reqDir, pattern))
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			log.Warn(fmt.Sprintf("result pattern %s matched nothing in %s", pattern, reqDir))
			continue
		}

		for _, match := range matches {
			rel, err := filepath.Rel(reqDir, match)
			if err != nil {
				return fmt.Errorf("relativize %s: %w", match, err)
			}
			dest := filepath.Join(resultsDir, rel)

			for _, action := range results[pattern] {
				switch action {
				case ActionCopy:
					if err := CopyPath(match, dest); err != nil {
						return fmt.Errorf("copy %s -> %s: %w", match, dest, err)
					}
				case ActionMove:
					if err := os.RemoveAll(dest); err != nil {
						return fmt.Errorf("clear destination %s: %w", dest, err)
					}
					if err := MovePath(match, dest); err != nil {
						return fmt.Errorf("move %s -> %s: %w", match, dest, err)
					}
				default:
					return fmt.Errorf("unknown result action %q for pattern %s", action, pattern)
				}
			}
		}
	}
	return nil
}

// Remove deletes every entry under reqDir matching any of patterns,
// so the next iteration starts against freshly regenerated inputs.
func Remove(reqDir string, patterns []string) error {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(reqDir, pattern))
		if err != nil {
			return fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, match := range matches {
			if err := os.RemoveAll(match); err != nil {
				return fmt.Errorf("remove %s: %w", match, err)
			}
		}
	}
	return nil
}

func CopyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return CopyTree(src, dst)
	}
	return CopyFile(src, dst, info.Mode())
}

func MovePath(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-device rename: fall back to copy-then-remove.
	if err := CopyPath(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return CopyFile(path, target, info.Mode())
	})
}

func CopyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
