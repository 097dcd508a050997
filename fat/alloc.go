package fat

import (
	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/ferrors"
)

// Allocator allocates and frees clusters on top of a Table (spec §4.4,
// component C4). It keeps a go-bitmap cache mirroring "cluster N is free" so
// FindFree/FreeCount don't always have to rescan the whole FAT; the cache is
// rebuilt from a full table scan on first use and kept in sync incrementally
// as clusters are allocated or freed under the filesystem-wide lock (spec
// §5 — no finer-grained discipline is needed since there is exactly one
// writer at a time).
type Allocator struct {
	table  *Table
	dev    *blockio.Device
	geom   *bpb.BPB
	fsinfo *bpb.FSInfo

	free      bitmap.Bitmap
	freeValid bool
}

// NewAllocator creates an Allocator over table. fsinfo may be nil for
// FAT12/16 volumes, which have no FSInfo sector.
func NewAllocator(table *Table, dev *blockio.Device, geom *bpb.BPB, fsinfo *bpb.FSInfo) *Allocator {
	return &Allocator{table: table, dev: dev, geom: geom, fsinfo: fsinfo}
}

func (a *Allocator) ensureBitmap() error {
	if a.freeValid {
		return nil
	}
	bm, err := a.table.FreeBitmap()
	if err != nil {
		return err
	}
	a.free = bm
	a.freeValid = true
	return nil
}

func (a *Allocator) markUsed(cluster uint32) {
	if a.freeValid {
		a.free.Set(int(cluster-2), true)
	}
}

func (a *Allocator) markFree(cluster uint32) {
	if a.freeValid {
		a.free.Set(int(cluster-2), false)
	}
}

// zeroCluster writes BytesPerCluster null bytes to the given cluster's data
// region (spec §4.4 step 6: newly allocated clusters are zero-filled).
func (a *Allocator) zeroCluster(cluster uint32) error {
	offset := a.clusterDataOffset(cluster)
	zero := make([]byte, a.geom.BytesPerCluster)
	return a.dev.WriteRange(offset, zero)
}

// clusterDataOffset returns the byte offset of cluster's data region, as a
// volume-relative offset (blockio.Device adds PartitionOffset separately).
func (a *Allocator) clusterDataOffset(cluster uint32) int64 {
	firstSectorOfCluster := a.geom.FirstDataSector + (cluster-2)*a.geom.SectorsPerCluster
	return int64(firstSectorOfCluster) * int64(a.geom.BytesPerSector)
}

// ClusterDataOffset exposes clusterDataOffset for callers outside this
// package (directory/file operations need it to read and write cluster
// payloads directly).
func (a *Allocator) ClusterDataOffset(cluster uint32) int64 {
	return a.clusterDataOffset(cluster)
}

// Allocate finds a free cluster, marks it end-of-chain, zero-fills its data
// region, links it after predecessor if given, and updates the FSInfo hint
// (spec §4.4). predecessor of 0 means "no predecessor" (a brand new chain).
func (a *Allocator) Allocate(predecessor uint32) (uint32, error) {
	if err := a.ensureBitmap(); err != nil {
		return 0, err
	}

	start := uint32(2)
	wrap := false
	if a.geom.Variant == bpb.FAT32 && a.fsinfo != nil && a.fsinfo.NextFree != 0xFFFFFFFF {
		start = a.fsinfo.NextFree
		wrap = true
	}

	cluster, err := a.findFreeViaBitmap(start, a.table.MaxCluster(), wrap)
	if err != nil {
		if start != 2 {
			cluster, err = a.findFreeViaBitmap(2, a.table.MaxCluster(), false)
		}
		if err != nil {
			return 0, err
		}
	}

	if err := a.table.SetEntry(cluster, Entry{Kind: EndOfChain}); err != nil {
		return 0, err
	}
	a.markUsed(cluster)

	if a.fsinfo != nil {
		a.fsinfo.MarkAllocated(cluster)
	}

	if predecessor != 0 {
		if err := a.table.SetEntry(predecessor, Entry{Kind: Next, NextCluster: cluster}); err != nil {
			// Roll back: the cluster was claimed but never linked in, so free
			// it before surfacing the error (spec §7: allocator failures are
			// surfaced after releasing clusters already allocated in the same
			// operation).
			var rollback *multierror.Error
			if ferr := a.table.SetEntry(cluster, Entry{Kind: Unused}); ferr != nil {
				rollback = multierror.Append(rollback, ferr)
			}
			a.markFree(cluster)
			rollback = multierror.Append(rollback, err)
			return 0, ferrors.Wrap(ferrors.IO, rollback)
		}
	}

	if err := a.zeroCluster(cluster); err != nil {
		return 0, err
	}

	return cluster, nil
}

// findFreeViaBitmap scans the cached bitmap for a free cluster in [start,
// end], optionally wrapping to 2 (mirrors Table.FindFree but against the
// cache instead of the disk).
func (a *Allocator) findFreeViaBitmap(start, end uint32, wrap bool) (uint32, error) {
	for c := start; c <= end; c++ {
		if !a.free.Get(int(c - 2)) {
			return c, nil
		}
	}
	if wrap && start > 2 {
		for c := uint32(2); c < start; c++ {
			if !a.free.Get(int(c - 2)) {
				return c, nil
			}
		}
	}
	return 0, ferrors.New(ferrors.NoSpace)
}

// AllocateChain allocates count new clusters linked together (and, if
// predecessor is non-zero, linked after it), returning the clusters in
// chain order. If allocation fails partway through, every cluster already
// claimed in this call is freed before the error is returned (spec §7).
func (a *Allocator) AllocateChain(predecessor uint32, count int) ([]uint32, error) {
	clusters := make([]uint32, 0, count)
	prev := predecessor

	for i := 0; i < count; i++ {
		cluster, err := a.Allocate(prev)
		if err != nil {
			var rollback *multierror.Error
			rollback = multierror.Append(rollback, err)
			for _, c := range clusters {
				if ferr := a.Deallocate(c); ferr != nil {
					rollback = multierror.Append(rollback, ferr)
				}
			}
			return nil, ferrors.Wrap(ferrors.NoSpace, rollback)
		}
		clusters = append(clusters, cluster)
		prev = cluster
	}

	return clusters, nil
}

// Deallocate frees a single cluster. Freeing a cluster already marked Bad is
// rejected (spec §4.4).
func (a *Allocator) Deallocate(cluster uint32) error {
	entry, err := a.table.GetEntry(cluster)
	if err != nil {
		return err
	}
	if entry.Kind == Bad {
		return ferrors.Newf(ferrors.InvalidArgument, "cannot deallocate defective cluster %d", cluster)
	}

	if err := a.table.SetEntry(cluster, Entry{Kind: Unused}); err != nil {
		return err
	}
	a.markFree(cluster)
	if a.fsinfo != nil {
		a.fsinfo.MarkFreed()
	}
	return nil
}

// DeallocateChain walks the chain starting at first and frees every cluster
// in it.
func (a *Allocator) DeallocateChain(first uint32) error {
	if first < 2 {
		return nil
	}

	current := first
	for {
		entry, err := a.table.GetEntry(current)
		if err != nil {
			return err
		}

		next := uint32(0)
		isEnd := entry.Kind != Next
		if entry.Kind == Next {
			next = entry.NextCluster
		}

		if err := a.Deallocate(current); err != nil {
			return err
		}

		if isEnd {
			return nil
		}
		current = next
	}
}

// FreeCount returns the cached free-cluster count, or performs a fresh scan
// if the cache hasn't been built yet.
func (a *Allocator) FreeCount() (uint32, error) {
	if err := a.ensureBitmap(); err != nil {
		return 0, err
	}
	var count uint32
	// The bitmap may be longer than the cluster count; only bits for
	// clusters 2..MaxCluster are counted.
	for i := 0; i < int(a.table.MaxCluster())-1; i++ {
		if !a.free.Get(i) {
			count++
		}
	}
	return count, nil
}
