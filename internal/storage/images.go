package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ListBaseImages enumerates the base images present under the pool's
// upstream/ directory by file stem, sorted lexicographically.
func (m *Manager) ListBaseImages() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "upstream", "*.qcow2"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan base images: %w", err)
	}

	images := make([]string, 0, len(matches))
	for _, match := range matches {
		images = append(images, strings.TrimSuffix(filepath.Base(match), ".qcow2"))
	}
	sort.Strings(images)

	return images, nil
}

// BaseImagePath returns the path a base image would have under upstream/.
func (m *Manager) BaseImagePath(distro string) string {
	return filepath.Join(m.dir, "upstream", distro+".qcow2")
}
