// Package blockio implements sector-aligned I/O over an arbitrary
// random-access byte stream (spec §4.1, component C1).
//
// The underlying disk only admits whole-sector transfers of at least one
// logical block; callers of [Device] may request arbitrary byte ranges, and
// the device performs read-modify-write for the sectors at either edge of the
// range. All offsets passed to exported methods are logical file offsets;
// [Device] adds PartitionOffset before issuing I/O against the stream, so a
// volume living inside a larger image (e.g. past an MBR) is handled
// transparently.
package blockio

import (
	"fmt"
	"io"

	"github.com/go-fatfs/fatfs/ferrors"
)

// Device wraps a stream to make it look like a sector-addressable block
// device. It buffers exactly one sector at a time; no caching is maintained
// between calls, though that would be a valid optimization (spec §4.1 permits
// one-sector read-ahead, which this implementation does not perform).
type Device struct {
	stream          io.ReadWriteSeeker
	BytesPerSector  uint32
	PartitionOffset int64
}

// New creates a Device backed by stream, with the given sector size and a
// byte offset within stream where the volume begins.
func New(stream io.ReadWriteSeeker, bytesPerSector uint32, partitionOffset int64) *Device {
	return &Device{
		stream:          stream,
		BytesPerSector:  bytesPerSector,
		PartitionOffset: partitionOffset,
	}
}

func (d *Device) sectorOf(offset int64) int64 {
	return offset / int64(d.BytesPerSector)
}

// readSector reads exactly one full sector starting at the given sector
// index into buf, which must be BytesPerSector bytes long.
func (d *Device) readSector(sector int64, buf []byte) error {
	absOffset := d.PartitionOffset + sector*int64(d.BytesPerSector)
	if _, err := d.stream.Seek(absOffset, io.SeekStart); err != nil {
		return ferrors.Wrap(ferrors.IO, err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return ferrors.Wrap(ferrors.IO, err)
	}
	return nil
}

func (d *Device) writeSector(sector int64, buf []byte) error {
	absOffset := d.PartitionOffset + sector*int64(d.BytesPerSector)
	if _, err := d.stream.Seek(absOffset, io.SeekStart); err != nil {
		return ferrors.Wrap(ferrors.IO, err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return ferrors.Wrap(ferrors.IO, err)
	}
	return nil
}

// ReadRange fills buf with the bytes at logical offset..offset+len(buf), doing
// whatever partial-sector reads are necessary at either edge of the range.
func (d *Device) ReadRange(offset int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	sectorSize := int64(d.BytesPerSector)
	firstSector := d.sectorOf(offset)
	lastSector := d.sectorOf(offset + int64(len(buf)) - 1)

	sectorBuf := make([]byte, sectorSize)
	written := 0

	for sector := firstSector; sector <= lastSector; sector++ {
		if err := d.readSector(sector, sectorBuf); err != nil {
			return err
		}

		sectorStart := sector * sectorSize
		copyFrom := int64(0)
		if sectorStart < offset {
			copyFrom = offset - sectorStart
		}
		copyTo := sectorSize
		sectorEnd := sectorStart + sectorSize
		rangeEnd := offset + int64(len(buf))
		if sectorEnd > rangeEnd {
			copyTo = sectorSize - (sectorEnd - rangeEnd)
		}

		n := copy(buf[written:], sectorBuf[copyFrom:copyTo])
		written += n
	}

	return nil
}

// WriteRange writes buf to logical offset..offset+len(buf). Partial-sector
// writes at either edge of the range are performed as read-modify-write so
// that neighboring bytes already on disk are preserved.
func (d *Device) WriteRange(offset int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	sectorSize := int64(d.BytesPerSector)
	firstSector := d.sectorOf(offset)
	lastSector := d.sectorOf(offset + int64(len(buf)) - 1)

	sectorBuf := make([]byte, sectorSize)
	consumed := 0

	for sector := firstSector; sector <= lastSector; sector++ {
		sectorStart := sector * sectorSize
		sectorEnd := sectorStart + sectorSize
		rangeEnd := offset + int64(len(buf))

		writeFrom := int64(0)
		if sectorStart < offset {
			writeFrom = offset - sectorStart
		}
		writeTo := sectorSize
		if sectorEnd > rangeEnd {
			writeTo = sectorSize - (sectorEnd - rangeEnd)
		}

		// Partial overlap at either edge requires a read-modify-write so we
		// don't clobber neighboring bytes that belong to a different logical
		// region (e.g. the tail of the previous directory entry).
		if writeFrom != 0 || writeTo != sectorSize {
			if err := d.readSector(sector, sectorBuf); err != nil {
				return err
			}
		}

		n := copy(sectorBuf[writeFrom:writeTo], buf[consumed:])
		consumed += n

		if err := d.writeSector(sector, sectorBuf); err != nil {
			return err
		}
	}

	return nil
}

// Flush issues at most one flush of the underlying stream, if it supports
// one. Streams that don't implement a Sync/Flush method are assumed to write
// through immediately.
func (d *Device) Flush() error {
	type flusher interface {
		Flush() error
	}
	type syncer interface {
		Sync() error
	}

	if f, ok := d.stream.(flusher); ok {
		if err := f.Flush(); err != nil {
			return ferrors.Wrap(ferrors.IO, err)
		}
		return nil
	}
	if s, ok := d.stream.(syncer); ok {
		if err := s.Sync(); err != nil {
			return ferrors.Wrap(ferrors.IO, err)
		}
	}
	return nil
}

// String implements fmt.Stringer for diagnostics.
func (d *Device) String() string {
	return fmt.Sprintf(
		"blockio.Device{BytesPerSector: %d, PartitionOffset: %d}",
		d.BytesPerSector, d.PartitionOffset,
	)
}
