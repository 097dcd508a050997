// Package scheme implements the boundary contract of spec §6: a handle
// table keyed by numeric ids, translating open/read/write/seek/rename/stat
// calls into operations against one mounted volume.Volume. This is the
// adapter a kernel scheme driver would sit behind; it owns no on-disk
// knowledge of its own beyond what it needs to track open handles.
package scheme

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/ferrors"
	"github.com/go-fatfs/fatfs/volume"
)

// Scheme is the handle-table boundary for one mounted volume. Name is the
// scheme prefix fpath reports back (e.g. "fat" for "fat:/foo/bar").
type Scheme struct {
	name string
	vol  *volume.Volume

	mu      sync.Mutex
	handles map[uint64]*handle
	nextID  uint64
}

// New wraps vol with a fresh, empty handle table.
func New(name string, vol *volume.Volume) *Scheme {
	return &Scheme{
		name:    name,
		vol:     vol,
		handles: make(map[uint64]*handle),
	}
}

func (s *Scheme) get(id uint64) (*handle, error) {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return nil, ferrors.New(ferrors.InvalidArgument)
	}
	return h, nil
}

func (s *Scheme) register(h *handle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.handles[s.nextID] = h
	return s.nextID
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// Open resolves path per flags and returns a handle id. Recognized flags are
// Read, Write, Create, Excl, Trunc, Append, Directory, Symlink, NoFollow;
// Symlink is always rejected since the core has no symlink object kind
// (spec §6).
func (s *Scheme) Open(path string, flags OpenFlag, uid, gid uint32) (uint64, error) {
	if flags&Symlink != 0 {
		return 0, ferrors.New(ferrors.InvalidArgument)
	}
	path = normalizePath(path)
	wantDir := flags&Directory != 0

	h := &handle{path: path, flags: flags}

	switch {
	case flags&Create != 0 && wantDir:
		if flags&Excl != 0 {
			if _, err := s.vol.Stat(path); err == nil {
				return 0, ferrors.New(ferrors.AlreadyExists)
			} else if !ferrors.Is(err, ferrors.NotFound) {
				return 0, err
			}
		}
		if _, err := s.vol.CreateDir(path); err != nil {
			return 0, err
		}
		fallthrough

	case wantDir:
		parent, entry, ok, err := s.vol.Resolve(path)
		if err != nil {
			return 0, err
		}
		if !ok {
			// Path named the root; it has no parent and can't be removed or
			// renamed, but fstat/fstatvfs still need to work against it.
			entry = directory.Entry{Kind: directory.KindDirectory, Cluster: s.vol.Geometry().RootCluster}
			parent = nil
		}
		if entry.Kind != directory.KindDirectory {
			return 0, ferrors.New(ferrors.NotADirectory)
		}
		h.parent, h.entry = parent, entry

	case flags&Create != 0:
		if flags&Excl != 0 {
			if _, err := s.vol.Stat(path); err == nil {
				return 0, ferrors.New(ferrors.AlreadyExists)
			} else if !ferrors.Is(err, ferrors.NotFound) {
				return 0, err
			}
		}
		f, err := s.vol.CreateFile(path)
		if err != nil {
			return 0, err
		}
		if flags&Trunc != 0 {
			if err := f.Truncate(0); err != nil {
				return 0, err
			}
		}
		parent, entry, ok, err := s.vol.Resolve(path)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ferrors.New(ferrors.InvalidData)
		}
		h.parent, h.entry, h.file = parent, entry, f

	default:
		f, err := s.vol.OpenFile(path)
		if err != nil {
			return 0, err
		}
		if flags&Trunc != 0 {
			if err := f.Truncate(0); err != nil {
				return 0, err
			}
		}
		parent, entry, ok, err := s.vol.Resolve(path)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ferrors.New(ferrors.IsADirectory)
		}
		h.parent, h.entry, h.file = parent, entry, f
	}

	if flags&Append != 0 && h.file != nil {
		h.offset = h.file.Size()
	}

	return s.register(h), nil
}

// Read copies up to len(buf) bytes from the handle's current offset,
// advancing it by the amount actually read.
func (s *Scheme) Read(id uint64, buf []byte) (int, error) {
	h, err := s.get(id)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isDirectory() {
		return 0, ferrors.New(ferrors.IsADirectory)
	}
	if h.flags&Read == 0 {
		return 0, ferrors.New(ferrors.PermissionDenied)
	}

	n, err := h.file.Read(buf, h.offset)
	h.offset += uint32(n)
	return n, err
}

// Write copies buf to the handle's current offset (or the file's current
// end, for an Append handle), advancing the offset by the amount written.
func (s *Scheme) Write(id uint64, buf []byte) (int, error) {
	h, err := s.get(id)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isDirectory() {
		return 0, ferrors.New(ferrors.IsADirectory)
	}
	if h.flags&Write == 0 {
		return 0, ferrors.New(ferrors.PermissionDenied)
	}

	writeOffset := h.offset
	if h.flags&Append != 0 {
		writeOffset = h.file.Size()
	}

	n, err := h.file.Write(buf, writeOffset)
	h.offset = writeOffset + uint32(n)
	return n, err
}

// Seek whence values, matching io.Seeker's conventions.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek repositions the handle's offset and returns the new absolute offset.
func (s *Scheme) Seek(id uint64, offset int64, whence int) (int64, error) {
	h, err := s.get(id)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = int64(h.offset)
	case SeekEnd:
		if h.isDirectory() {
			return 0, ferrors.New(ferrors.IsADirectory)
		}
		base = int64(h.file.Size())
	default:
		return 0, ferrors.New(ferrors.InvalidArgument)
	}

	newPos := base + offset
	if newPos < 0 || newPos > 0xFFFFFFFF {
		return 0, ferrors.New(ferrors.InvalidArgument)
	}
	h.offset = uint32(newPos)
	return newPos, nil
}

// FPath reports the handle's canonical "<scheme>:/<path>" form (spec §6).
func (s *Scheme) FPath(id uint64) (string, error) {
	h, err := s.get(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", s.name, h.path), nil
}

// FRename moves the handle's file or directory to newPath. Only the mount
// owner may rename (spec §6).
func (s *Scheme) FRename(id uint64, newPath string, uid, gid uint32) error {
	h, err := s.get(id)
	if err != nil {
		return err
	}
	ownerUID, _, _ := s.vol.Owner()
	if uid != ownerUID {
		return ferrors.New(ferrors.PermissionDenied)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	newPath = normalizePath(newPath)
	if err := s.vol.Rename(h.path, newPath); err != nil {
		return err
	}

	h.path = newPath
	if parent, entry, ok, err := s.vol.Resolve(newPath); err == nil && ok {
		h.parent, h.entry = parent, entry
	}
	return nil
}

// FStat fills in size, first-cluster-as-inode, and the mount's owner/mode.
func (s *Scheme) FStat(id uint64) (Stat, error) {
	h, err := s.get(id)
	if err != nil {
		return Stat{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	uid, gid, mode := s.vol.Owner()
	size := h.entry.Size
	if h.file != nil {
		size = h.file.Size()
	}

	return Stat{
		Size:        size,
		Inode:       h.entry.Cluster,
		Mode:        fileMode(mode, h.isDirectory()),
		UID:         uid,
		GID:         gid,
		IsDirectory: h.isDirectory(),
	}, nil
}

// FStatVFS reports the volume's highest cluster number (cluster count + 1)
// and free cluster count as f_blocks and f_bfree (spec §6).
func (s *Scheme) FStatVFS(id uint64) (FSStat, error) {
	if _, err := s.get(id); err != nil {
		return FSStat{}, err
	}

	free, err := s.vol.FreeCount()
	if err != nil {
		return FSStat{}, err
	}
	geom := s.vol.Geometry()

	return FSStat{
		Blocks:      geom.TotalClusters + 1,
		BlocksFree:  free,
		ClusterSize: geom.BytesPerCluster,
	}, nil
}

// FSync flushes the underlying block stream.
func (s *Scheme) FSync(id uint64) error {
	if _, err := s.get(id); err != nil {
		return err
	}
	return s.vol.Device().Flush()
}

// FTruncate shrinks the handle's file to length (spec §4.7: shrink-only).
func (s *Scheme) FTruncate(id uint64, length uint32) error {
	h, err := s.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isDirectory() {
		return ferrors.New(ferrors.IsADirectory)
	}
	if err := h.file.Truncate(length); err != nil {
		return err
	}
	return nil
}

// FUtimens rewrites the handle's write and last-access timestamps.
func (s *Scheme) FUtimens(id uint64, mtime, atime time.Time) error {
	h, err := s.get(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.parent == nil {
		return ferrors.New(ferrors.PermissionDenied)
	}
	return h.parent.SetEntryTimes(h.entry, mtime, atime)
}

// Close releases the handle id. Closing an unknown id is a no-op error,
// matching the rest of the boundary's EINVAL-on-bad-handle convention.
func (s *Scheme) Close(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; !ok {
		return ferrors.New(ferrors.InvalidArgument)
	}
	delete(s.handles, id)
	return nil
}

// Rmdir removes an empty directory by path.
func (s *Scheme) Rmdir(path string, uid, gid uint32) error {
	path = normalizePath(path)
	entry, err := s.vol.Stat(path)
	if err != nil {
		return err
	}
	if entry.Kind != directory.KindDirectory {
		return ferrors.New(ferrors.NotADirectory)
	}
	return s.vol.Remove(path)
}

// Unlink removes a file (not a directory) by path.
func (s *Scheme) Unlink(path string, uid, gid uint32) error {
	path = normalizePath(path)
	entry, err := s.vol.Stat(path)
	if err != nil {
		return err
	}
	if entry.Kind == directory.KindDirectory {
		return ferrors.New(ferrors.IsADirectory)
	}
	return s.vol.Remove(path)
}

// Chmod, Fchmod, and Fchown are accepted but no-op: FAT has no permission
// bits to persist (spec §6).
func (s *Scheme) Chmod(path string, mode uint32) error       { return nil }
func (s *Scheme) Fchmod(id uint64, mode uint32) error         { return nil }
func (s *Scheme) Fchown(id uint64, uid, gid uint32) error     { return nil }
