// Package directory implements directory iteration, lookup, and the create /
// remove / rename operations (spec §4.6, component C6) on top of the FAT
// table, cluster allocator, and directory-entry codec.
package directory

import (
	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/direntry"
	"github.com/go-fatfs/fatfs/fat"
	"github.com/go-fatfs/fatfs/ferrors"
)

// Slot addresses one 32-byte directory-entry record. Cluster is 0 for a
// FAT12/16 fixed-region root; Offset is always relative to the start of
// that cluster (or, for the fixed root, the start of the root region).
type Slot struct {
	Cluster uint32
	Offset  uint32
}

// Directory is a handle onto one directory's entry stream, either a normal
// cluster chain or (FAT12/16 only) the fixed root region immediately
// following the FAT copies.
type Directory struct {
	dev   *blockio.Device
	geom  *bpb.BPB
	table *fat.Table
	alloc *fat.Allocator

	firstCluster uint32 // 0 for a fixed root
	isFixedRoot  bool
	rootOffset   int64
	rootSize     uint32 // bytes, fixed root only
}

// NewRoot opens the volume's root directory.
func NewRoot(dev *blockio.Device, geom *bpb.BPB, table *fat.Table, alloc *fat.Allocator) *Directory {
	if geom.Variant == bpb.FAT32 {
		return &Directory{dev: dev, geom: geom, table: table, alloc: alloc, firstCluster: geom.RootCluster}
	}

	rootStartSector := geom.ReservedSectors + uint32(geom.NumFATs)*geom.FATSize
	return &Directory{
		dev: dev, geom: geom, table: table, alloc: alloc,
		isFixedRoot: true,
		rootOffset:  int64(rootStartSector) * int64(geom.BytesPerSector),
		rootSize:    geom.RootDirSectors * geom.BytesPerSector,
	}
}

// Open opens a subdirectory whose data starts at firstCluster.
func Open(dev *blockio.Device, geom *bpb.BPB, table *fat.Table, alloc *fat.Allocator, firstCluster uint32) *Directory {
	return &Directory{dev: dev, geom: geom, table: table, alloc: alloc, firstCluster: firstCluster}
}

// FirstCluster returns the directory's starting cluster, or 0 for the
// FAT12/16 fixed root.
func (d *Directory) FirstCluster() uint32 {
	return d.firstCluster
}

// SlotOffset returns the absolute device byte offset of a slot address,
// resolving both fixed-root and cluster-chain addressing. File uses this to
// rewrite a short entry's size/first-cluster fields in place after a write
// or truncate.
func (d *Directory) SlotOffset(s Slot) int64 {
	return d.absoluteOffset(s)
}

func (d *Directory) absoluteOffset(s Slot) int64 {
	if d.isFixedRoot {
		return d.rootOffset + int64(s.Offset)
	}
	return d.alloc.ClusterDataOffset(s.Cluster) + int64(s.Offset)
}

func (d *Directory) readSlotRaw(s Slot) ([]byte, error) {
	buf := make([]byte, direntry.Size)
	if err := d.dev.ReadRange(d.absoluteOffset(s), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Directory) writeSlotRaw(s Slot, buf []byte) error {
	return d.dev.WriteRange(d.absoluteOffset(s), buf)
}

// clusterCursor walks a directory's address space slot by slot, crossing
// cluster boundaries (or stopping at the fixed root's end) transparently.
type clusterCursor struct {
	dir     *Directory
	cluster uint32 // current cluster, meaningless for fixed root
	offset  uint32 // byte offset within the current cluster/region
	done    bool
}

func (d *Directory) cursor() *clusterCursor {
	return &clusterCursor{dir: d, cluster: d.firstCluster}
}

// next returns the next slot address and whether the cursor has more slots
// after it. When the cursor reaches the end of a non-fixed directory's
// chain, ok is false and extend must be called to keep writing past it.
func (c *clusterCursor) next() (Slot, bool, error) {
	if c.done {
		return Slot{}, false, nil
	}

	if c.dir.isFixedRoot {
		if c.offset >= c.dir.rootSize {
			c.done = true
			return Slot{}, false, nil
		}
		s := Slot{Offset: c.offset}
		c.offset += direntry.Size
		return s, true, nil
	}

	if c.offset >= c.dir.geom.BytesPerCluster {
		entry, err := c.dir.table.GetEntry(c.cluster)
		if err != nil {
			return Slot{}, false, err
		}
		if entry.Kind != fat.Next {
			c.done = true
			return Slot{}, false, nil
		}
		c.cluster = entry.NextCluster
		c.offset = 0
	}

	s := Slot{Cluster: c.cluster, Offset: c.offset}
	c.offset += direntry.Size
	return s, true, nil
}

// lastCluster returns the final cluster of the directory's chain (only
// meaningful for non-fixed-root directories).
func (d *Directory) lastCluster() (uint32, error) {
	if d.isFixedRoot || d.firstCluster == 0 {
		return 0, ferrors.New(ferrors.InvalidArgument)
	}
	current := d.firstCluster
	for {
		entry, err := d.table.GetEntry(current)
		if err != nil {
			return 0, err
		}
		if entry.Kind != fat.Next {
			return current, nil
		}
		current = entry.NextCluster
	}
}

// cursorFrom starts a cursor positioned exactly at s, so the first call to
// next returns s itself.
func (d *Directory) cursorFrom(s Slot) *clusterCursor {
	return &clusterCursor{dir: d, cluster: s.Cluster, offset: s.Offset}
}

// writeSlotsFrom writes bufs into consecutive slots starting at start,
// crossing cluster boundaries as needed. Every cluster involved must
// already exist (callers extend the directory via FindFreeEntries first).
func (d *Directory) writeSlotsFrom(start Slot, bufs [][]byte) error {
	cur := d.cursorFrom(start)
	for _, buf := range bufs {
		addr, ok, err := cur.next()
		if err != nil {
			return err
		}
		if !ok {
			return ferrors.New(ferrors.NoSpace)
		}
		if err := d.writeSlotRaw(addr, buf); err != nil {
			return err
		}
	}
	return nil
}

// IsRoot reports whether this directory is the volume's root (fixed region
// on FAT12/16, or the cluster named by BPB.RootCluster on FAT32).
func (d *Directory) IsRoot() bool {
	return d.isFixedRoot || (d.geom.Variant == bpb.FAT32 && d.firstCluster == d.geom.RootCluster)
}

// extend grows the directory by one cluster, chained after its last
// cluster, and returns the new cluster (already zero-filled by the
// allocator so every slot in it reads as FreeRest).
func (d *Directory) extend() (uint32, error) {
	if d.isFixedRoot {
		return 0, ferrors.New(ferrors.NoSpace)
	}

	last, err := d.lastCluster()
	if err != nil {
		return 0, err
	}
	return d.alloc.Allocate(last)
}
