// Package volume ties the FAT core components together: it mounts a block
// stream into a usable filesystem handle, resolves POSIX-style paths one
// component at a time across the directory layer, and serializes every
// externally-visible operation behind one coarse lock (spec §5).
package volume

import (
	"io"
	"log"
	"strings"
	"sync"

	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/fat"
	"github.com/go-fatfs/fatfs/ferrors"
)

// Options configures Mount. Logger defaults to log.Default() when nil; no
// third-party structured-logging dependency is used here, matching the
// teacher's own bare use of the standard log package (spec §3.2/§3.3).
type Options struct {
	PartitionOffset int64
	ReadOnly        bool
	UID, GID        uint32
	Mode            uint32
	Logger          *log.Logger
}

// Volume is a mounted FAT filesystem: the single lock-protected handle that
// every scheme-boundary operation goes through (spec §5).
type Volume struct {
	mu sync.Mutex

	dev    *blockio.Device
	geom   *bpb.BPB
	table  *fat.Table
	alloc  *fat.Allocator
	fsinfo *bpb.FSInfo

	opts      Options
	log       *log.Logger
	root      *directory.Directory
	unmounted bool
}

// Mount decodes the BPB (and FSInfo, for FAT32) from stream and returns a
// ready-to-use Volume.
func Mount(stream io.ReadWriteSeeker, opts Options) (*Volume, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	dev := blockio.New(stream, 512, opts.PartitionOffset)

	sector0 := make([]byte, 512)
	if err := dev.ReadRange(0, sector0); err != nil {
		return nil, err
	}
	geom, err := bpb.Decode(sector0)
	if err != nil {
		return nil, err
	}

	if geom.BytesPerSector != 512 {
		dev = blockio.New(stream, geom.BytesPerSector, opts.PartitionOffset)
	}

	table := fat.New(dev, geom)

	var fsinfo *bpb.FSInfo
	if geom.Variant == bpb.FAT32 {
		fsSector := make([]byte, geom.BytesPerSector)
		if err := dev.ReadRange(int64(geom.FSInfoSector)*int64(geom.BytesPerSector), fsSector); err != nil {
			return nil, err
		}
		decoded, err := bpb.DecodeFSInfo(fsSector, geom.FSInfoSector)
		if err != nil {
			decoded = bpb.DefaultFSInfo(geom.FSInfoSector)
		}
		fsinfo = decoded
	}

	clean, _, err := table.VolumeFlags()
	if err != nil {
		return nil, err
	}
	if !clean {
		logger.Printf("fatfs: volume was not cleanly unmounted; a repair pass may be needed")
	}

	alloc := fat.NewAllocator(table, dev, geom, fsinfo)
	root := directory.NewRoot(dev, geom, table, alloc)

	v := &Volume{
		dev: dev, geom: geom, table: table, alloc: alloc, fsinfo: fsinfo,
		opts: opts, log: logger, root: root,
	}

	if !opts.ReadOnly {
		if err := table.SetVolumeFlags(false, false); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// Root returns the volume's root directory handle.
func (v *Volume) Root() *directory.Directory {
	return v.root
}

// Lock acquires the filesystem-wide lock. Callers (the scheme boundary) must
// Unlock when the operation completes.
func (v *Volume) Lock() {
	v.mu.Lock()
}

// Unlock releases the filesystem-wide lock.
func (v *Volume) Unlock() {
	v.mu.Unlock()
}

// Device, Table, Allocator and Geometry expose the underlying components so
// other packages (scheme, file) can build handles without volume needing to
// know about them.
func (v *Volume) Device() *blockio.Device { return v.dev }
func (v *Volume) Table() *fat.Table       { return v.table }
func (v *Volume) Allocator() *fat.Allocator {
	return v.alloc
}
func (v *Volume) Geometry() *bpb.BPB { return v.geom }

// Owner returns the uid/gid/mode the volume was mounted with, for the
// scheme boundary to report from fstat and to enforce on frename (spec §6).
func (v *Volume) Owner() (uid, gid, mode uint32) {
	return v.opts.UID, v.opts.GID, v.opts.Mode
}

// Resolve walks a slash-separated path one component at a time from the
// root, returning the final component's parent directory and its directory
// entry, with ok true. An empty path (or "/") resolves to the root itself,
// in which case parent is the root, entry is the zero value and ok is false.
func (v *Volume) Resolve(path string) (parent *directory.Directory, entry directory.Entry, ok bool, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return v.root, directory.Entry{}, false, nil
	}

	dir := v.root
	for i, name := range parts {
		e, ferr := dir.FindEntry(name, nil, nil)
		if ferr != nil {
			return nil, directory.Entry{}, false, ferr
		}

		if i == len(parts)-1 {
			return dir, e, true, nil
		}

		if e.Kind != directory.KindDirectory {
			return nil, directory.Entry{}, false, ferrors.New(ferrors.NotADirectory)
		}
		dir = directory.Open(v.dev, v.geom, v.table, v.alloc, e.Cluster)
	}

	return dir, directory.Entry{}, false, nil
}

// ResolveParent walks every path component except the last, returning the
// directory that would contain it and the final component's name.
func (v *Volume) ResolveParent(path string) (parent *directory.Directory, name string, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", ferrors.New(ferrors.InvalidArgument)
	}

	dir := v.root
	for _, name := range parts[:len(parts)-1] {
		e, ferr := dir.FindEntry(name, nil, nil)
		if ferr != nil {
			return nil, "", ferr
		}
		if e.Kind != directory.KindDirectory {
			return nil, "", ferrors.New(ferrors.NotADirectory)
		}
		dir = directory.Open(v.dev, v.geom, v.table, v.alloc, e.Cluster)
	}

	return dir, parts[len(parts)-1], nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// FreeCount returns the volume's current free-cluster count.
func (v *Volume) FreeCount() (uint32, error) {
	return v.alloc.FreeCount()
}

// Unmount flushes FSInfo, sets the clean-shutdown and hard-error bits on
// cluster 1, reconciles the FSInfo free count against a full scan (logging
// a warning, not failing, on mismatch — spec §4.4/§5 leaked-cluster note),
// and flushes the underlying stream. Idempotent.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unmounted {
		return nil
	}
	v.unmounted = true

	if v.opts.ReadOnly {
		return v.dev.Flush()
	}

	scanned, err := v.table.FreeCount()
	if err != nil {
		return err
	}

	if v.fsinfo != nil {
		if v.fsinfo.FreeCount != 0xFFFFFFFF && v.fsinfo.FreeCount != scanned {
			v.log.Printf("fatfs: FSInfo free count %d disagrees with scanned count %d; using scanned count", v.fsinfo.FreeCount, scanned)
		}
		v.fsinfo.FreeCount = scanned

		fsOffset := int64(v.geom.FSInfoSector) * int64(v.geom.BytesPerSector)
		fsSector := make([]byte, v.geom.BytesPerSector)
		if err := v.dev.ReadRange(fsOffset, fsSector); err != nil {
			return err
		}
		v.fsinfo.Encode(fsSector)
		if err := v.dev.WriteRange(fsOffset, fsSector); err != nil {
			return err
		}
	}

	if err := v.table.SetVolumeFlags(true, true); err != nil {
		return err
	}

	return v.dev.Flush()
}
