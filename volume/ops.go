package volume

import (
	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/ferrors"
	"github.com/go-fatfs/fatfs/file"
)

// CreateFile creates (or returns the existing) file at path, under the
// filesystem-wide lock.
func (v *Volume) CreateFile(path string) (*file.File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	parent, name, err := v.ResolveParent(path)
	if err != nil {
		return nil, err
	}

	entry, err := parent.Create(name, false, parent)
	if err != nil {
		return nil, err
	}
	return file.Open(v.dev, v.geom, v.table, v.alloc, parent, entry), nil
}

// CreateDir creates (or returns the existing) directory at path.
func (v *Volume) CreateDir(path string) (directory.Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	parent, name, err := v.ResolveParent(path)
	if err != nil {
		return directory.Entry{}, err
	}
	return parent.Create(name, true, parent)
}

// OpenFile resolves path to an existing regular file and returns a handle
// for byte-granular I/O.
func (v *Volume) OpenFile(path string) (*file.File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	parent, entry, ok, err := v.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.New(ferrors.IsADirectory)
	}
	if entry.Kind == directory.KindDirectory {
		return nil, ferrors.New(ferrors.IsADirectory)
	}
	return file.Open(v.dev, v.geom, v.table, v.alloc, parent, entry), nil
}

// Stat resolves path and returns its directory entry without opening it for
// I/O.
func (v *Volume) Stat(path string) (directory.Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, entry, ok, err := v.Resolve(path)
	if err != nil {
		return directory.Entry{}, err
	}
	if !ok {
		return directory.Entry{Kind: directory.KindDirectory, Cluster: v.geom.RootCluster}, nil
	}
	return entry, nil
}

// Remove deletes the file or (empty) directory at path.
func (v *Volume) Remove(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	parent, entry, ok, err := v.Resolve(path)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.New(ferrors.PermissionDenied)
	}
	return parent.Remove(entry)
}

// Rename moves the entry at srcPath to dstPath, possibly across
// directories. It refuses with ferrors.InvalidArgument when dstPath names
// srcPath itself or a descendant of it (spec §4.6/§9); the caller does not
// need to check for this itself.
func (v *Volume) Rename(srcPath, dstPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := checkNotDescendant(srcPath, dstPath); err != nil {
		return err
	}

	srcParent, entry, ok, err := v.Resolve(srcPath)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.New(ferrors.PermissionDenied)
	}

	dstParent, dstName, err := v.ResolveParent(dstPath)
	if err != nil {
		return err
	}

	_, err = srcParent.Rename(entry, dstParent, dstName)
	return err
}

// checkNotDescendant resolves the open question from spec §9: renaming a
// directory into its own subtree is refused outright (component-prefix
// check against the cleaned path strings) rather than left to the caller.
func checkNotDescendant(src, dst string) error {
	srcParts := splitPath(src)
	dstParts := splitPath(dst)
	if len(dstParts) < len(srcParts) {
		return nil
	}
	for i, p := range srcParts {
		if !namesEqualFoldPath(p, dstParts[i]) {
			return nil
		}
	}
	return ferrors.New(ferrors.InvalidArgument)
}

func namesEqualFoldPath(a, b string) bool {
	if len(a) != len(b) {
		return a == b
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
