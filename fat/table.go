// Package fat implements the FAT table (spec §4.3, component C3) and the
// cluster allocator built on top of it (spec §4.4, component C4).
package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/ferrors"
)

// EntryKind classifies the meaning of a decoded FAT entry (spec §3, §4.3).
type EntryKind int

const (
	Unused EntryKind = iota
	Bad
	EndOfChain
	Next
)

// Entry is a decoded FAT table slot. Only NextCluster is meaningful when
// Kind == Next.
type Entry struct {
	Kind        EntryKind
	NextCluster uint32
}

// Table reads and writes FAT entries for a single mounted volume, honoring
// the per-variant encoding and FAT32 mirroring rules (spec §4.3).
type Table struct {
	dev     *blockio.Device
	geom    *bpb.BPB
	variant bpb.Variant

	// fatStartSector is the sector (relative to the volume, i.e. before
	// adding the device's partition offset) where the first (index 0) FAT
	// begins.
	fatStartSector uint32
}

// New creates a Table for the given geometry, reading/writing FAT entries
// through dev.
func New(dev *blockio.Device, geom *bpb.BPB) *Table {
	return &Table{
		dev:            dev,
		geom:           geom,
		variant:        geom.Variant,
		fatStartSector: geom.ReservedSectors,
	}
}

// MaxCluster returns the highest valid cluster number on this volume.
func (t *Table) MaxCluster() uint32 {
	return t.geom.TotalClusters + 1 // clusters are indexed from 2
}

func (t *Table) fatByteOffset(fatIndex uint32, cluster uint32) (int64, uint32) {
	sectorsPerFAT := t.geom.FATSize
	fatBase := int64(t.fatStartSector+fatIndex*sectorsPerFAT) * int64(t.geom.BytesPerSector)

	switch t.variant {
	case bpb.FAT32:
		return fatBase + int64(cluster)*4, 4
	case bpb.FAT16:
		return fatBase + int64(cluster)*2, 2
	default: // FAT12: 1.5 bytes per entry
		return fatBase + int64(cluster)*3/2, 2
	}
}

// rawEntry reads the raw, variant-encoded value of a FAT entry from the FAT
// that SetEntry keeps current: index 0 when the FATs are mirrored, otherwise
// the single active FAT named by ExtFlags.
func (t *Table) rawEntry(cluster uint32) (uint32, error) {
	fatIndex := uint32(0)
	if !t.geom.Mirrored() {
		fatIndex = t.geom.ActiveFAT()
	}
	offset, width := t.fatByteOffset(fatIndex, cluster)

	buf := make([]byte, width)
	if err := t.dev.ReadRange(offset, buf); err != nil {
		return 0, err
	}

	if t.variant == bpb.FAT12 {
		return decodeFAT12(buf, cluster), nil
	}
	return decodeLE(buf), nil
}

func decodeLE(buf []byte) uint32 {
	if len(buf) == 2 {
		return uint32(buf[0]) | uint32(buf[1])<<8
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// decodeFAT12 extracts the 12-bit entry for cluster from the two bytes that
// straddle its nibble boundary (spec §4.3).
func decodeFAT12(buf []byte, cluster uint32) uint32 {
	raw := uint32(buf[0]) | uint32(buf[1])<<8
	if cluster%2 == 0 {
		return raw & 0x0FFF
	}
	return raw >> 4
}

// GetEntry decodes the FAT entry for cluster into its semantic meaning
// (spec §4.3). Cluster numbers in the reserved upper range for this variant
// (at or above its Bad marker) are reported as Bad; other numbers outside
// [2, MaxCluster] are rejected with InvalidArgument.
func (t *Table) GetEntry(cluster uint32) (Entry, error) {
	if cluster >= t.variant.Bad() {
		return Entry{Kind: Bad}, nil
	}
	if cluster < 2 || cluster > t.MaxCluster() {
		return Entry{}, ferrors.Newf(ferrors.InvalidArgument, "cluster %d out of range [2, %d]", cluster, t.MaxCluster())
	}

	raw, err := t.rawEntry(cluster)
	if err != nil {
		return Entry{}, err
	}

	masked := raw & t.variant.MaxValue()

	switch {
	case masked == 0:
		return Entry{Kind: Unused}, nil
	case masked == t.variant.Bad():
		return Entry{Kind: Bad}, nil
	case masked >= t.variant.EOCMin():
		return Entry{Kind: EndOfChain}, nil
	default:
		return Entry{Kind: Next, NextCluster: masked}, nil
	}
}

// encodedValue returns the raw on-disk value for a semantic entry, per
// variant.
func (t *Table) encodedValue(e Entry) uint32 {
	switch e.Kind {
	case Unused:
		return 0
	case Bad:
		return t.variant.Bad()
	case EndOfChain:
		return t.variant.EOCMin()
	default:
		return e.NextCluster & t.variant.MaxValue()
	}
}

// SetEntry writes value into the FAT entry for cluster. On FAT32 the
// reserved high 4 bits of the existing on-disk value are preserved, as
// required by spec §4.3. Depending on BPB.Mirrored(), this writes either
// every FAT copy or only the single active one (ExtFlags bits 0-3).
func (t *Table) SetEntry(cluster uint32, e Entry) error {
	if cluster < 2 || cluster > t.MaxCluster() {
		return ferrors.Newf(ferrors.InvalidArgument, "cluster %d out of range [2, %d]", cluster, t.MaxCluster())
	}

	value := t.encodedValue(e)

	fatIndices := []uint32{0}
	if t.variant == bpb.FAT32 {
		if t.geom.Mirrored() {
			fatIndices = make([]uint32, t.geom.NumFATs)
			for i := range fatIndices {
				fatIndices[i] = uint32(i)
			}
		} else {
			fatIndices = []uint32{t.geom.ActiveFAT()}
		}
	} else {
		// FAT12/16 always mirror every FAT copy.
		fatIndices = make([]uint32, t.geom.NumFATs)
		for i := range fatIndices {
			fatIndices[i] = uint32(i)
		}
	}

	for _, fatIndex := range fatIndices {
		if err := t.writeOneFAT(fatIndex, cluster, value); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) writeOneFAT(fatIndex, cluster, value uint32) error {
	offset, width := t.fatByteOffset(fatIndex, cluster)

	if t.variant == bpb.FAT12 {
		existing := make([]byte, 2)
		if err := t.dev.ReadRange(offset, existing); err != nil {
			return err
		}
		encodeFAT12InPlace(existing, cluster, uint16(value))
		return t.dev.WriteRange(offset, existing)
	}

	if t.variant == bpb.FAT32 {
		// Preserve the reserved high 4 bits of whatever is currently stored.
		existing := make([]byte, 4)
		if err := t.dev.ReadRange(offset, existing); err != nil {
			return err
		}
		reserved := decodeLE(existing) & 0xF0000000
		buf := make([]byte, 4)
		putLE32(buf, (value&0x0FFFFFFF)|reserved)
		return t.dev.WriteRange(offset, buf)
	}

	buf := make([]byte, width)
	putLE16(buf, uint16(value))
	return t.dev.WriteRange(offset, buf)
}

func putLE16(buf []byte, v uint16) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
}

func putLE32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

// encodeFAT12InPlace patches the two bytes straddling cluster's 12-bit slot,
// leaving the neighboring entry's nibble untouched.
func encodeFAT12InPlace(buf []byte, cluster uint32, value uint16) {
	raw := uint16(buf[0]) | uint16(buf[1])<<8
	if cluster%2 == 0 {
		raw = (raw & 0xF000) | (value & 0x0FFF)
	} else {
		raw = (raw & 0x000F) | (value << 4)
	}
	buf[0] = byte(raw)
	buf[1] = byte(raw >> 8)
}

// FindFree scans forward from start (inclusive) through end (inclusive) for
// the first Unused entry. If a wrap-capable call is requested (wrap=true)
// and nothing is found before end, the scan wraps once to cluster 2 and
// continues up to start (spec §4.3).
func (t *Table) FindFree(start, end uint32, wrap bool) (uint32, error) {
	for c := start; c <= end; c++ {
		entry, err := t.GetEntry(c)
		if err != nil {
			return 0, err
		}
		if entry.Kind == Unused {
			return c, nil
		}
	}

	if wrap && start > 2 {
		for c := uint32(2); c < start; c++ {
			entry, err := t.GetEntry(c)
			if err != nil {
				return 0, err
			}
			if entry.Kind == Unused {
				return c, nil
			}
		}
	}

	return 0, ferrors.New(ferrors.NoSpace)
}

// FreeCount tallies every Unused entry in [2, MaxCluster] via a full table
// scan (spec §4.3).
func (t *Table) FreeCount() (uint32, error) {
	var count uint32
	for c := uint32(2); c <= t.MaxCluster(); c++ {
		entry, err := t.GetEntry(c)
		if err != nil {
			return 0, err
		}
		if entry.Kind == Unused {
			count++
		}
	}
	return count, nil
}

// FreeBitmap builds a bitmap.Bitmap snapshot of free/used clusters via a full
// table scan, indexed so bit (c-2) corresponds to cluster c. It backs the
// allocator's cache (spec §4.4 design note: an Allocator is serialized by the
// filesystem-wide lock, so a stale-free cache just needs to be refreshed
// under that same lock whenever it might have drifted).
func (t *Table) FreeBitmap() (bitmap.Bitmap, error) {
	totalClusters := int(t.MaxCluster()) - 1
	bm := bitmap.New(totalClusters)

	for c := uint32(2); c <= t.MaxCluster(); c++ {
		entry, err := t.GetEntry(c)
		if err != nil {
			return nil, err
		}
		bm.Set(int(c-2), entry.Kind != Unused)
	}
	return bm, nil
}

// clusterAt1Offset computes the byte offset and width of cluster 1's entry,
// which on FAT16/32 carries the clean-shutdown/hard-error flags (spec §3,
// §4.3, §9).
func (t *Table) clusterAt1Offset() (int64, uint32) {
	return t.fatByteOffset(0, 1)
}

const (
	cleanShutdownBitFAT16 = uint16(1 << 15)
	hardErrorBitFAT16     = uint16(1 << 14)
	cleanShutdownBitFAT32 = uint32(1 << 27)
	hardErrorBitFAT32     = uint32(1 << 26)
)

// SetVolumeFlags ORs the clean-shutdown and no-hard-errors bits into cluster
// 1's FAT entry. FAT12 has no such bits and this is a no-op (spec §9).
func (t *Table) SetVolumeFlags(cleanShutdown, noHardErrors bool) error {
	if t.variant == bpb.FAT12 {
		return nil
	}

	offset, width := t.clusterAt1Offset()
	buf := make([]byte, width)
	if err := t.dev.ReadRange(offset, buf); err != nil {
		return err
	}

	if t.variant == bpb.FAT16 {
		v := decodeLE(buf)
		if cleanShutdown {
			v |= uint32(cleanShutdownBitFAT16)
		}
		if noHardErrors {
			v |= uint32(hardErrorBitFAT16)
		}
		putLE16(buf, uint16(v))
	} else {
		v := decodeLE(buf)
		if cleanShutdown {
			v |= cleanShutdownBitFAT32
		}
		if noHardErrors {
			v |= hardErrorBitFAT32
		}
		putLE32(buf, v)
	}

	return t.dev.WriteRange(offset, buf)
}

// VolumeFlags reports the current clean-shutdown/no-hard-errors bits on
// cluster 1. Always (false, false) on FAT12.
func (t *Table) VolumeFlags() (cleanShutdown, noHardErrors bool, err error) {
	if t.variant == bpb.FAT12 {
		return false, false, nil
	}

	offset, width := t.clusterAt1Offset()
	buf := make([]byte, width)
	if err := t.dev.ReadRange(offset, buf); err != nil {
		return false, false, err
	}

	v := decodeLE(buf)
	if t.variant == bpb.FAT16 {
		return v&uint32(cleanShutdownBitFAT16) != 0, v&uint32(hardErrorBitFAT16) != 0, nil
	}
	return v&cleanShutdownBitFAT32 != 0, v&hardErrorBitFAT32 != 0, nil
}
