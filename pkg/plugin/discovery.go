package plugin

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// ManifestSuffix marks a file as a plugin manifest.
const ManifestSuffix = ".plugin.json"

// DefaultRoots returns the plugin search roots in fixed precedence order:
// the bundled builtin directory, the project-level plugins directory, and
// the hidden user-level directory, the latter two relative to the working
// directory.
func DefaultRoots(builtinDir string) []string {
	return []string{builtinDir, "plugins", filepath.Join(".reconf", "plugins")}
}

// Discovery scans an ordered list of root directories for plugin manifests.
type Discovery struct {
	roots  []string
	logger zerolog.Logger
}

// NewDiscovery creates a Discovery over the given roots. Roots that do not
// exist are skipped at scan time, not here.
func NewDiscovery(roots []string, logger zerolog.Logger) *Discovery {
	return &Discovery{
		roots:  append([]string(nil), roots...),
		logger: logger.With().Str("component", "plugin-discovery").Logger(),
	}
}

// Roots returns the configured search roots in order.
func (d *Discovery) Roots() []string {
	return append([]string(nil), d.roots...)
}

// Discover walks every configured root recursively and returns the paths of
// all manifest files found, in root order then lexical order within a root.
// Missing roots are skipped silently; any other filesystem error aborts the
// scan.
func (d *Discovery) Discover() ([]string, error) {
	var paths []string

	for _, root := range d.roots {
		if root == "" {
			continue
		}

		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				d.logger.Debug().Str("dir", root).Msg("Plugin root does not exist, skipping")
				continue
			}
			return nil, fmt.Errorf("failed to stat plugin root %s: %w", root, err)
		}
		if !info.IsDir() {
			d.logger.Warn().Str("dir", root).Msg("Plugin root is not a directory, skipping")
			continue
		}

		err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			if strings.HasSuffix(entry.Name(), ManifestSuffix) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin root %s: %w", root, err)
		}
	}

	d.logger.Debug().Int("count", len(paths)).Msg("Manifest discovery completed")
	return paths, nil
}
