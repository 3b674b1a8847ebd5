package plugins

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"
)

// manifestPattern matches manifest paths relative to a root, prefixed with "/"
// so that a manifest directly under the root matches too
var manifestPattern = glob.MustCompile("**/"+ManifestFile, '/')

// Scanner enumerates manifest files under a list of root directories
type Scanner struct {
	roots []string
	log   logrus.FieldLogger
}

// NewScanner creates a scanner over roots, walked in the given order
func NewScanner(roots []string, log logrus.FieldLogger) *Scanner {
	if log == nil {
		log = logrus.New()
	}

	return &Scanner{
		roots: roots,
		log:   log,
	}
}

// Roots returns the configured root directories
func (s *Scanner) Roots() []string {
	return append([]string(nil), s.roots...)
}

// ManifestPaths returns every manifest found under the roots. Each root is
// walked fully before the next; within a root, order is lexical.
// Missing roots and unreadable subdirectories are skipped. If ctx is done
// before the walk completes, the partial list is discarded and ctx.Err() returned.
func (s *Scanner) ManifestPaths(ctx context.Context) ([]string, error) {
	var paths []string

	for _, root := range s.roots {
		found, err := s.scanRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, nil
	}

	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Debugf("Plugin directory does not exist: %s", root)
		} else {
			s.log.WithError(err).Warnf("Failed to read plugin directory %s", root)
		}
		return nil, nil
	}

	var found []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.log.WithError(err).Warnf("Skipping unreadable path %s", path)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == root {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		// Directories named plugin.json are reported too; reading them fails later
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if manifestPattern.Match("/" + filepath.ToSlash(rel)) {
			found = append(found, path)
		}
		return nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if walkErr != nil {
		s.log.WithError(walkErr).Warnf("Plugin directory scan aborted: %s", root)
	}

	return found, nil
}

// DefaultPluginDirectories returns the built-in and user plugin directories
func DefaultPluginDirectories() (builtin, user string) {
	builtin = "plugins"
	if exe, err := os.Executable(); err == nil {
		builtin = filepath.Join(filepath.Dir(exe), "plugins")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	user = filepath.Join(homeDir, ".pluginhost", "plugins")

	return builtin, user
}
