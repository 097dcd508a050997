package bpb

import (
	"encoding/binary"

	"github.com/go-fatfs/fatfs/ferrors"
)

const (
	fsInfoLeadSig    = 0x41615252
	fsInfoStructSig  = 0x61417272
	fsInfoTrailSig   = 0xAA550000
	fsInfoFreeOffset = 488
	fsInfoNextOffset = 492
)

// FSInfo is the FAT32-only advisory hint structure (spec §3, §4.2): the
// last-known free cluster count and a hint for where to start the next
// free-cluster search. It is held in memory and flushed back to its sector
// lazily, tracked by Dirty.
type FSInfo struct {
	Sector     uint32 // absolute sector number where this FSInfo lives
	FreeCount  uint32 // 0xFFFFFFFF means "unknown"
	NextFree   uint32 // 0xFFFFFFFF means "unknown", start from 2
	Dirty      bool
}

// DecodeFSInfo parses the FSInfo sector. If the three magic signatures don't
// all match it returns an InvalidData error rather than silently repairing
// the sector, so the caller decides whether to fall back to DefaultFSInfo
// (spec §4.2). The counters are returned as stored; Validate checks them
// against the cluster range.
func DecodeFSInfo(sectorData []byte, sector uint32) (*FSInfo, error) {
	if len(sectorData) < 512 {
		return nil, ferrors.Newf(ferrors.InvalidData, "FSInfo sector too short: %d bytes", len(sectorData))
	}

	leadSig := binary.LittleEndian.Uint32(sectorData[0:4])
	structSig := binary.LittleEndian.Uint32(sectorData[484:488])
	trailSig := binary.LittleEndian.Uint32(sectorData[508:512])

	if leadSig != fsInfoLeadSig || structSig != fsInfoStructSig || trailSig != fsInfoTrailSig {
		return nil, ferrors.New(ferrors.InvalidData)
	}

	return &FSInfo{
		Sector:    sector,
		FreeCount: binary.LittleEndian.Uint32(sectorData[fsInfoFreeOffset : fsInfoFreeOffset+4]),
		NextFree:  binary.LittleEndian.Uint32(sectorData[fsInfoNextOffset : fsInfoNextOffset+4]),
	}, nil
}

// DefaultFSInfo returns an FSInfo with both fields set to "unknown", which
// forces a full-table recount on first use. Used when the on-disk FSInfo is
// absent or fails validation.
func DefaultFSInfo(sector uint32) *FSInfo {
	return &FSInfo{
		Sector:    sector,
		FreeCount: 0xFFFFFFFF,
		NextFree:  0xFFFFFFFF,
		Dirty:     true,
	}
}

// Validate checks the advisory counters against the volume's actual cluster
// range, re-deriving defaults if they're nonsensical (spec §4.2: "validated
// against the maximum cluster and re-derived if corrupt").
func (f *FSInfo) Validate(maxCluster uint32) {
	if f.FreeCount != 0xFFFFFFFF && f.FreeCount > maxCluster {
		f.FreeCount = 0xFFFFFFFF
		f.Dirty = true
	}
	if f.NextFree != 0xFFFFFFFF && (f.NextFree < 2 || f.NextFree > maxCluster) {
		f.NextFree = 0xFFFFFFFF
		f.Dirty = true
	}
}

// MarkAllocated adjusts the hint after a cluster is allocated: free count
// decrements, next-free hint advances past the newly used cluster.
func (f *FSInfo) MarkAllocated(cluster uint32) {
	if f.FreeCount != 0xFFFFFFFF && f.FreeCount > 0 {
		f.FreeCount--
	}
	f.NextFree = cluster + 1
	f.Dirty = true
}

// MarkFreed adjusts the hint after a cluster is deallocated.
func (f *FSInfo) MarkFreed() {
	if f.FreeCount != 0xFFFFFFFF {
		f.FreeCount++
	}
	f.Dirty = true
}

// Encode writes FreeCount, NextFree and the three signatures into sectorData
// in place,
// per spec §4.2: "flush() re-reads its block, patches the four fields, and
// writes back" — callers are expected to have already read the full sector
// into sectorData so reserved bytes and signatures are preserved.
func (f *FSInfo) Encode(sectorData []byte) {
	binary.LittleEndian.PutUint32(sectorData[0:4], fsInfoLeadSig)
	binary.LittleEndian.PutUint32(sectorData[484:488], fsInfoStructSig)
	binary.LittleEndian.PutUint32(sectorData[fsInfoFreeOffset:fsInfoFreeOffset+4], f.FreeCount)
	binary.LittleEndian.PutUint32(sectorData[fsInfoNextOffset:fsInfoNextOffset+4], f.NextFree)
	binary.LittleEndian.PutUint32(sectorData[508:512], fsInfoTrailSig)
}
