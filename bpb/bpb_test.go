package bpb_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
)

// buildFAT32Sector constructs a minimal, valid FAT32 boot sector for the
// given total sector count.
func buildFAT32Sector(totalSectors uint32, sectorsPerFAT32 uint32) []byte {
	buf := make([]byte, 512)
	buf[11] = 0x00
	binary.LittleEndian.PutUint16(buf[11:13], 512) // BytesPerSector
	buf[13] = 8                                    // SectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], 32)  // ReservedSectors
	buf[16] = 2                                    // NumFATs
	binary.LittleEndian.PutUint16(buf[17:19], 0)   // RootEntryCount = 0 for FAT32
	binary.LittleEndian.PutUint16(buf[19:21], 0)   // TotalSectors16 = 0
	buf[21] = 0xF8
	binary.LittleEndian.PutUint16(buf[22:24], 0) // SectorsPerFAT16 = 0 (FAT32 shaped)
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)
	binary.LittleEndian.PutUint32(buf[36:40], sectorsPerFAT32)
	binary.LittleEndian.PutUint32(buf[44:48], 2) // RootCluster
	return buf
}

func buildFAT16Sector(totalSectors uint16, sectorsPerFAT16 uint16, rootEntries uint16) []byte {
	buf := make([]byte, 512)
	binary.LittleEndian.PutUint16(buf[11:13], 512)
	buf[13] = 4
	binary.LittleEndian.PutUint16(buf[14:16], 1)
	buf[16] = 2
	binary.LittleEndian.PutUint16(buf[17:19], rootEntries)
	binary.LittleEndian.PutUint16(buf[19:21], totalSectors)
	buf[21] = 0xF8
	binary.LittleEndian.PutUint16(buf[22:24], sectorsPerFAT16)
	return buf
}

func TestDecode_FAT32(t *testing.T) {
	sector := buildFAT32Sector(1048576, 2048)
	header, err := bpb.Decode(sector)
	require.NoError(t, err)
	require.Equal(t, bpb.FAT32, header.Variant)
	require.Equal(t, uint32(2), header.RootCluster)
	require.Equal(t, uint32(0), header.RootDirSectors)
}

func TestDecode_RejectsBadBytesPerSector(t *testing.T) {
	sector := buildFAT16Sector(4194, 12, 512)
	binary.LittleEndian.PutUint16(sector[11:13], 300) // invalid
	_, err := bpb.Decode(sector)
	require.Error(t, err)
}

func TestDecode_FAT16Boundary(t *testing.T) {
	// 4085 clusters of data should classify as FAT16. We construct a FAT16
	// shaped header with enough data sectors to produce exactly that.
	sectorsPerCluster := uint16(1)
	reserved := uint16(1)
	numFATs := uint8(1)
	rootEntries := uint16(16) // 1 sector of root dir
	fatSize := uint16(9)      // Decode does not check FAT size; the variant depends on cluster count alone

	dataSectorsWanted := uint32(4085) // -> FAT16 per spec boundary
	totalSectors := uint32(reserved) + uint32(numFATs)*uint32(fatSize) + 1 + dataSectorsWanted

	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[11:13], 512)
	sector[13] = byte(sectorsPerCluster)
	binary.LittleEndian.PutUint16(sector[14:16], reserved)
	sector[16] = numFATs
	binary.LittleEndian.PutUint16(sector[17:19], rootEntries)
	binary.LittleEndian.PutUint16(sector[19:21], uint16(totalSectors))
	sector[21] = 0xF8
	binary.LittleEndian.PutUint16(sector[22:24], fatSize)

	header, err := bpb.Decode(sector)
	require.NoError(t, err)
	require.Equal(t, bpb.FAT16, header.Variant)
}

func TestFSInfo_RoundTrip(t *testing.T) {
	sector := make([]byte, 512)
	info := bpb.DefaultFSInfo(1)
	info.FreeCount = 1000
	info.NextFree = 5
	info.Encode(sector)

	decoded, err := bpb.DecodeFSInfo(sector, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1000), decoded.FreeCount)
	require.Equal(t, uint32(5), decoded.NextFree)
}

func TestFSInfo_InvalidSignatureFallsBack(t *testing.T) {
	sector := make([]byte, 512)
	_, err := bpb.DecodeFSInfo(sector, 1)
	require.Error(t, err)
}

func TestGetGeometry(t *testing.T) {
	g, err := bpb.GetGeometry("floppy1440")
	require.NoError(t, err)
	require.Equal(t, bpb.FAT12, g.Variant())
	require.Equal(t, uint32(512), g.BytesPerSector)

	_, err = bpb.GetGeometry("does-not-exist")
	require.Error(t, err)
}
