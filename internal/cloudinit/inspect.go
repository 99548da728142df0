package cloudinit

import (
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/kdomanski/iso9660"
)

// InspectSeed lists the file paths inside a mastered seed image, relative to
// the image root and sorted. Useful for checking what a guest was handed
// without booting it.
func InspectSeed(isoPath string) ([]string, error) {
	f, err := os.Open(isoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed image: %w", err)
	}
	defer f.Close()

	image, err := iso9660.OpenImage(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed image: %w", err)
	}
	root, err := image.RootDir()
	if err != nil {
		return nil, fmt.Errorf("failed to read seed image root: %w", err)
	}

	var files []string
	if err := collectFiles(root, "", &files); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func collectFiles(dir *iso9660.File, prefix string, files *[]string) error {
	children, err := dir.GetChildren()
	if err != nil {
		return fmt.Errorf("failed to list seed image directory %q: %w", prefix, err)
	}

	for _, child := range children {
		name := path.Join(prefix, child.Name())
		if child.IsDir() {
			if err := collectFiles(child, name, files); err != nil {
				return err
			}
			continue
		}
		*files = append(*files, name)
	}
	return nil
}
