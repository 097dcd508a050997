// Package file implements byte-granular read/write/truncate operations over
// a directory entry's cluster chain (spec §4.7, component C7).
package file

import (
	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/direntry"
	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/fat"
	"github.com/go-fatfs/fatfs/ferrors"
)

// File is a handle onto one regular file's data: its cluster chain plus the
// location of the short directory-entry record that tracks its size and
// first cluster, so writes that move the EOF or allocate a first cluster can
// rewrite that record in place.
type File struct {
	dev   *blockio.Device
	geom  *bpb.BPB
	table *fat.Table
	alloc *fat.Allocator

	parent *directory.Directory
	entry  directory.Entry // first cluster, size, and group location (slot holding the SFN is group[last])

	firstCluster uint32
	size         uint32
}

// Open wraps a directory entry (as returned by directory.Directory.Create or
// FindEntry) for byte-granular I/O.
func Open(dev *blockio.Device, geom *bpb.BPB, table *fat.Table, alloc *fat.Allocator, parent *directory.Directory, entry directory.Entry) *File {
	return &File{
		dev: dev, geom: geom, table: table, alloc: alloc,
		parent: parent, entry: entry,
		firstCluster: entry.Cluster,
		size:         entry.Size,
	}
}

// Size returns the file's current byte length.
func (f *File) Size() uint32 {
	return f.size
}

// FirstCluster returns the file's first data cluster, or 0 if it is empty.
func (f *File) FirstCluster() uint32 {
	return f.firstCluster
}

// clusterAndOffset splits a byte offset into a 0-based cluster index within
// the chain and the intra-cluster byte offset.
func (f *File) clusterAndOffset(byteOffset uint32) (clusterIndex uint32, intraOffset uint32) {
	bpc := f.geom.BytesPerCluster
	return byteOffset / bpc, byteOffset % bpc
}

// clusterAt walks the chain from the first cluster to the index-th cluster
// (0-based).
func (f *File) clusterAt(index uint32) (uint32, error) {
	current := f.firstCluster
	if current < 2 {
		return 0, ferrors.New(ferrors.InvalidArgument)
	}
	for i := uint32(0); i < index; i++ {
		entry, err := f.table.GetEntry(current)
		if err != nil {
			return 0, err
		}
		if entry.Kind != fat.Next {
			return 0, ferrors.New(ferrors.InvalidData)
		}
		current = entry.NextCluster
	}
	return current, nil
}

// Read copies min(len(buf), size-offset) bytes starting at offset into buf
// and returns the count actually read. Reading at or past EOF returns 0,
// nil (spec §4.7).
func (f *File) Read(buf []byte, offset uint32) (int, error) {
	if offset >= f.size {
		return 0, nil
	}

	want := len(buf)
	avail := int(f.size - offset)
	if want > avail {
		want = avail
	}
	if want == 0 {
		return 0, nil
	}

	bpc := f.geom.BytesPerCluster
	clusterIndex, intra := f.clusterAndOffset(offset)
	cluster, err := f.clusterAt(clusterIndex)
	if err != nil {
		return 0, err
	}

	read := 0
	for read < want {
		chunk := bpc - intra
		remaining := uint32(want - read)
		if chunk > remaining {
			chunk = remaining
		}

		off := f.alloc.ClusterDataOffset(cluster) + int64(intra)
		if err := f.dev.ReadRange(off, buf[read:read+int(chunk)]); err != nil {
			return read, err
		}
		read += int(chunk)
		intra = 0

		if read < want {
			entry, err := f.table.GetEntry(cluster)
			if err != nil {
				return read, err
			}
			if entry.Kind != fat.Next {
				return read, nil // chain ended prematurely: short read
			}
			cluster = entry.NextCluster
		}
	}

	return read, nil
}

// Write ensures the file is at least offset+len(buf) bytes long, then
// copies buf into the chain starting at offset, growing the chain and
// rewriting the short entry's size/first-cluster fields as needed (spec
// §4.7).
func (f *File) Write(buf []byte, offset uint32) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	if err := f.ensureLen(offset, uint32(len(buf))); err != nil {
		return 0, err
	}

	bpc := f.geom.BytesPerCluster
	clusterIndex, intra := f.clusterAndOffset(offset)
	cluster, err := f.clusterAt(clusterIndex)
	if err != nil {
		return 0, err
	}

	written := 0
	want := len(buf)
	for written < want {
		chunk := bpc - intra
		remaining := uint32(want - written)
		if chunk > remaining {
			chunk = remaining
		}

		off := f.alloc.ClusterDataOffset(cluster) + int64(intra)
		if err := f.dev.WriteRange(off, buf[written:written+int(chunk)]); err != nil {
			return written, err
		}
		written += int(chunk)
		intra = 0

		if written < want {
			entry, err := f.table.GetEntry(cluster)
			if err != nil {
				return written, err
			}
			if entry.Kind != fat.Next {
				return written, ferrors.New(ferrors.IO)
			}
			cluster = entry.NextCluster
		}
	}

	return written, nil
}

// ensureLen grows the file, allocating clusters and zero-filling any
// implicit hole, so that offset+length bytes are addressable (spec §4.7).
func (f *File) ensureLen(offset, length uint32) error {
	if uint64(offset)+uint64(length) <= uint64(f.size) {
		return nil
	}

	if f.size == 0 && f.firstCluster == 0 {
		cluster, err := f.alloc.Allocate(0)
		if err != nil {
			return err
		}
		f.firstCluster = cluster
	}

	const maxSize = 0xFFFFFFFF
	target := uint64(offset) + uint64(length)
	if target > maxSize {
		target = maxSize
	}

	bpc := uint64(f.geom.BytesPerCluster)
	totalClustersNeeded := (target + bpc - 1) / bpc
	if target == 0 {
		totalClustersNeeded = 0
	}

	currentClusters := uint64(0)
	if f.firstCluster >= 2 {
		currentClusters = 1
		current := f.firstCluster
		for {
			entry, err := f.table.GetEntry(current)
			if err != nil {
				return err
			}
			if entry.Kind != fat.Next {
				break
			}
			current = entry.NextCluster
			currentClusters++
		}

		if totalClustersNeeded > currentClusters {
			need := int(totalClustersNeeded - currentClusters)
			if _, err := f.alloc.AllocateChain(current, need); err != nil {
				return err
			}
		}
	}

	if offset > f.size {
		if err := f.zeroFillHole(f.size, offset); err != nil {
			return err
		}
	}

	f.size = uint32(target)
	return f.rewriteEntry()
}

// zeroFillHole writes zero bytes across [from, to) so an implicit hole left
// by a write past the old EOF reads back as zero (spec §4.7).
func (f *File) zeroFillHole(from, to uint32) error {
	if to <= from {
		return nil
	}

	bpc := f.geom.BytesPerCluster
	clusterIndex, intra := f.clusterAndOffset(from)
	cluster, err := f.clusterAt(clusterIndex)
	if err != nil {
		return err
	}

	remaining := to - from
	for remaining > 0 {
		chunk := bpc - intra
		if chunk > remaining {
			chunk = remaining
		}

		zero := make([]byte, chunk)
		off := f.alloc.ClusterDataOffset(cluster) + int64(intra)
		if err := f.dev.WriteRange(off, zero); err != nil {
			return err
		}

		remaining -= chunk
		intra = 0

		if remaining > 0 {
			entry, err := f.table.GetEntry(cluster)
			if err != nil {
				return err
			}
			if entry.Kind != fat.Next {
				return ferrors.New(ferrors.IO)
			}
			cluster = entry.NextCluster
		}
	}

	return nil
}

// Truncate shrinks the file to newSize, deallocating every cluster past the
// one containing the new last byte (spec §4.7). Growing via Truncate is not
// supported; callers wanting to grow should Write past the current EOF.
func (f *File) Truncate(newSize uint32) error {
	if newSize > f.size {
		return ferrors.New(ferrors.InvalidArgument)
	}
	if newSize == f.size {
		return nil
	}

	if newSize == 0 {
		if f.firstCluster >= 2 {
			if err := f.alloc.DeallocateChain(f.firstCluster); err != nil {
				return err
			}
		}
		f.firstCluster = 0
		f.size = 0
		return f.rewriteEntry()
	}

	clusterIndex, _ := f.clusterAndOffset(newSize - 1)
	cluster, err := f.clusterAt(clusterIndex)
	if err != nil {
		return err
	}

	entry, err := f.table.GetEntry(cluster)
	if err != nil {
		return err
	}
	successor := entry.NextCluster
	hadSuccessor := entry.Kind == fat.Next

	if err := f.table.SetEntry(cluster, fat.Entry{Kind: fat.EndOfChain}); err != nil {
		return err
	}
	if hadSuccessor {
		if err := f.alloc.DeallocateChain(successor); err != nil {
			return err
		}
	}

	f.size = newSize
	return f.rewriteEntry()
}

// rewriteEntry rewrites the short entry's size and first-cluster fields at
// its original slot, leaving its name and LFN group untouched.
func (f *File) rewriteEntry() error {
	group := f.entry.Group()
	if len(group) == 0 {
		return ferrors.New(ferrors.InvalidArgument)
	}
	sfnSlot := group[len(group)-1]

	raw, err := f.readEntrySlot(sfnSlot)
	if err != nil {
		return err
	}
	short, _, _, _ := direntry.DecodeRaw(raw)
	if short == nil {
		return ferrors.New(ferrors.InvalidData)
	}

	short.FileSize = f.size
	short.FirstClusterLow = uint16(f.firstCluster)
	short.FirstClusterHigh = uint16(f.firstCluster >> 16)

	return f.writeEntrySlot(sfnSlot, direntry.EncodeShort(*short))
}

func (f *File) readEntrySlot(s directory.Slot) ([]byte, error) {
	buf := make([]byte, direntry.Size)
	if err := f.dev.ReadRange(f.parent.SlotOffset(s), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *File) writeEntrySlot(s directory.Slot, buf []byte) error {
	return f.dev.WriteRange(f.parent.SlotOffset(s), buf)
}
