// Package bpb decodes and validates the boot sector / BIOS Parameter Block of
// a FAT12, FAT16, or FAT32 volume, derives its geometry, and (for FAT32)
// maintains the writable in-memory FSInfo sector (spec §4.2, component C2).
package bpb

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/go-fatfs/fatfs/ferrors"
)

// Variant identifies which of the three FAT table widths a volume uses.
type Variant int

const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

func (v Variant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// rawBootSector is the fixed 36-byte common prefix of every FAT boot sector
// (BS_jmpBoot through BPB_TotSec32), decoded directly from the first sector
// of the image.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// rawFAT32Extension is the FAT32-specific fields that follow rawBootSector at
// byte offset 36.
type rawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExtBootSignature uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BPB is the fully decoded, validated, and derived geometry of a FAT volume.
type BPB struct {
	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFATs           uint32
	RootEntryCount    uint32
	TotalSectors      uint64
	FATSize           uint32 // sectors per FAT
	Media             uint8

	Variant Variant

	// RootCluster is only meaningful for FAT32; it is BPB.RootCluster from
	// the extended header.
	RootCluster uint32

	// ExtFlags is only meaningful for FAT32: bit 7 clear means all FATs are
	// mirrored, bits 0-3 (when bit 7 is set) name the one active FAT.
	ExtFlags uint16

	FSInfoSector     uint32
	BackupBootSector uint32

	// Derived geometry.
	RootDirSectors  uint32
	FirstDataSector uint32
	TotalDataSectors uint32
	TotalClusters    uint32
	BytesPerCluster  uint32
}

// Decode parses the 512-byte (or BytesPerSector-byte) boot sector image in
// sector0 and returns a validated BPB. The header-field checks (spec §4.2)
// are collected and reported together as one *ferrors.Error of kind
// InvalidData whose message lists every failure; the total-sectors check and
// the FAT-class check that follow are reported on their own.
func Decode(sector0 []byte) (*BPB, error) {
	if len(sector0) < 90 {
		return nil, ferrors.Newf(ferrors.InvalidData, "boot sector too short: got %d bytes", len(sector0))
	}

	var raw rawBootSector
	if err := binary.Read(sliceReader(sector0[:36]), binary.LittleEndian, &raw); err != nil {
		return nil, ferrors.Wrap(ferrors.InvalidData, err)
	}

	var merr *multierror.Error

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		merr = multierror.Append(merr, fmt.Errorf(
			"bytes-per-sector must be a power of two in [512, 4096], got %d", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		merr = multierror.Append(merr, fmt.Errorf(
			"sectors-per-cluster must be a power of two in [1, 128], got %d", raw.SectorsPerCluster))
	}

	if raw.ReservedSectors < 1 {
		merr = multierror.Append(merr, fmt.Errorf("reserved-sectors must be >= 1, got %d", raw.ReservedSectors))
	}
	if raw.NumFATs < 1 {
		merr = multierror.Append(merr, fmt.Errorf("num-fats must be >= 1, got %d", raw.NumFATs))
	}

	if (raw.TotalSectors16 != 0) == (raw.TotalSectors32 != 0) {
		merr = multierror.Append(merr, fmt.Errorf(
			"exactly one of total-sectors-16 or total-sectors-32 must be non-zero"))
	}

	var fatSize32 uint32
	var ext rawFAT32Extension
	isFAT32Shaped := raw.SectorsPerFAT16 == 0

	if isFAT32Shaped {
		if len(sector0) < 90 {
			merr = multierror.Append(merr, fmt.Errorf("FAT32-shaped header but boot sector too short"))
		} else if err := binary.Read(sliceReader(sector0[36:90]), binary.LittleEndian, &ext); err != nil {
			merr = multierror.Append(merr, err)
		} else {
			fatSize32 = ext.SectorsPerFAT32
			if raw.RootEntryCount != 0 {
				merr = multierror.Append(merr, fmt.Errorf("FAT32 volumes must have root-entry-count == 0"))
			}
			if raw.TotalSectors16 != 0 {
				merr = multierror.Append(merr, fmt.Errorf("FAT32 volumes must have total-sectors-16 == 0"))
			}
			if fatSize32 == 0 {
				merr = multierror.Append(merr, fmt.Errorf("FAT32 volumes must have a non-zero 32-bit FAT size"))
			}
			if ext.FSVersion != 0 {
				merr = multierror.Append(merr, fmt.Errorf("unsupported FAT32 version %d", ext.FSVersion))
			}
		}
	}

	if merr != nil {
		merr.ErrorFormat = multierrorListFormat
		return nil, ferrors.Newf(ferrors.InvalidData, "invalid BPB: %s", merr.Error())
	}

	fatSize := uint32(raw.SectorsPerFAT16)
	if fatSize == 0 {
		fatSize = fatSize32
	}

	totalSectors := uint64(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint64(raw.TotalSectors32)
	}

	rootDirSectors := (uint32(raw.RootEntryCount)*32 + uint32(raw.BytesPerSector) - 1) / uint32(raw.BytesPerSector)
	firstDataSector := uint32(raw.ReservedSectors) + uint32(raw.NumFATs)*fatSize + rootDirSectors

	if totalSectors <= uint64(firstDataSector) {
		return nil, ferrors.Newf(ferrors.InvalidData,
			"total sectors (%d) must exceed the first data sector (%d)", totalSectors, firstDataSector)
	}

	totalDataSectors := uint32(totalSectors) - firstDataSector
	totalClusters := totalDataSectors / uint32(raw.SectorsPerCluster)
	variant := classify(totalClusters)

	if isFAT32Shaped != (variant == FAT32) {
		return nil, ferrors.Newf(ferrors.InvalidData,
			"cluster count (%d) implies %s but the header is shaped like %s",
			totalClusters, variant,
			map[bool]string{true: "FAT32", false: "FAT12/16"}[isFAT32Shaped])
	}

	b := &BPB{
		BytesPerSector:    uint32(raw.BytesPerSector),
		SectorsPerCluster: uint32(raw.SectorsPerCluster),
		ReservedSectors:   uint32(raw.ReservedSectors),
		NumFATs:           uint32(raw.NumFATs),
		RootEntryCount:    uint32(raw.RootEntryCount),
		TotalSectors:      totalSectors,
		FATSize:           fatSize,
		Media:             raw.Media,
		Variant:           variant,
		RootDirSectors:    rootDirSectors,
		FirstDataSector:   firstDataSector,
		TotalDataSectors:  totalDataSectors,
		TotalClusters:     totalClusters,
		BytesPerCluster:   uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster),
	}

	if variant == FAT32 {
		b.RootCluster = ext.RootCluster
		b.ExtFlags = ext.ExtFlags
		b.FSInfoSector = uint32(ext.FSInfoSector)
		b.BackupBootSector = uint32(ext.BackupBootSector)
	}

	return b, nil
}

// multierrorListFormat renders validation failures as a single-line,
// semicolon-separated list rather than multierror's default multi-line bullet
// list, since these are embedded inside a single ferrors.Error message.
func multierrorListFormat(errs []error) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}

// classify implements §4.3's DetermineFATVersion rule: the cluster count
// alone determines the variant, per Microsoft's FAT specification v1.03 p.14.
func classify(totalClusters uint32) Variant {
	if totalClusters < 4085 {
		return FAT12
	}
	if totalClusters < 65525 {
		return FAT16
	}
	return FAT32
}

// EOCMin returns the smallest cluster value considered "end of chain" for
// this variant.
func (v Variant) EOCMin() uint32 {
	switch v {
	case FAT12:
		return 0xFF8
	case FAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

// Bad returns the defective-cluster marker for this variant.
func (v Variant) Bad() uint32 {
	switch v {
	case FAT12:
		return 0xFF7
	case FAT16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

// MaxValue returns the largest representable raw entry value for this
// variant (used to mask off FAT32's reserved upper 4 bits).
func (v Variant) MaxValue() uint32 {
	switch v {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// Mirrored reports whether all FATs should be updated on write (bit 7 of
// ExtFlags clear), per spec §4.3. Only meaningful for FAT32; FAT12/16 are
// always mirrored.
func (b *BPB) Mirrored() bool {
	if b.Variant != FAT32 {
		return true
	}
	return b.ExtFlags&0x80 == 0
}

// ActiveFAT returns which FAT index (0-based) is the single active one when
// Mirrored() is false.
func (b *BPB) ActiveFAT() uint32 {
	return uint32(b.ExtFlags & 0x0F)
}

// sliceReader adapts a []byte to an io.Reader without an extra allocation
// for the common small-header case.
type sliceReaderT struct {
	data []byte
	pos  int
}

func sliceReader(data []byte) *sliceReaderT {
	return &sliceReaderT{data: data}
}

func (r *sliceReaderT) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.pos:])
	r.pos += n
	if n == 0 {
		return 0, fmt.Errorf("short read")
	}
	return n, nil
}
