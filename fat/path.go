package fat

import (
	"strings"

	fserrors "github.com/gofat/fatfs/errors"
)

// SplitPath splits a POSIX-style path into its parent directory path and
// leaf component (specification §4.5 split_path). dirPath is empty when
// the parent is the root.
func SplitPath(path string) (dirPath string, leaf string) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// LevelCount reports the number of '/'-separated components in path
// (specification §4.5 level_count).
func LevelCount(path string) int {
	comps := splitComponents(path)
	return len(comps)
}

func splitComponents(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// OpenDirectory walks path's components from the root, using FindEntry at
// each step and requiring every component to be a directory (specification
// §4.5 open_directory). An empty path resolves to the root itself.
func (v *Volume) OpenDirectory(path string) (DirRef, error) {
	cur := v.RootRef()
	comps := splitComponents(path)
	for _, comp := range comps {
		entry, ok, err := v.FindEntry(cur, comp)
		if err != nil {
			return DirRef{}, err
		}
		if !ok {
			return DirRef{}, fserrors.ErrNotFound.WithMessage("path component not found: " + comp)
		}
		if !entry.IsDir() {
			return DirRef{}, fserrors.ErrNotADirectory.WithMessage("path component is not a directory: " + comp)
		}
		cur = DirRef{StartCluster: entry.FirstCluster}
	}
	return cur, nil
}

// ResolveParent splits path and resolves the parent directory, returning
// the parent DirRef and the leaf name. This is the combination every file
// engine entry point (open/create/remove) needs before touching the
// directory codec.
func (v *Volume) ResolveParent(path string) (DirRef, string, error) {
	dirPath, leaf := SplitPath(path)
	if leaf == "" {
		return DirRef{}, "", fserrors.ErrInvalidArgument.WithMessage("path has no leaf component")
	}
	parent, err := v.OpenDirectory(dirPath)
	if err != nil {
		return DirRef{}, "", err
	}
	return parent, leaf, nil
}
