package volume_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/go-fatfs/fatfs/volume"
)

// buildFAT32Image constructs a minimal, valid FAT32 disk image entirely in
// memory: boot sector, FSInfo sector, two FAT copies, and an empty root
// directory cluster.
func buildFAT32Image(t *testing.T, totalClusters uint32) []byte {
	t.Helper()

	const bytesPerSector = 512
	const sectorsPerCluster = 1
	const reserved = 32
	const numFATs = 2

	// Size each FAT copy to actually address every cluster plus the two
	// reserved low entries, so allocator writes never land outside the FAT
	// region no matter which cluster is picked.
	fatBytesNeeded := (totalClusters + 2) * 4
	fatSizeSectors := (fatBytesNeeded + bytesPerSector - 1) / bytesPerSector

	totalSectors := reserved + numFATs*fatSizeSectors + totalClusters*sectorsPerCluster
	image := make([]byte, int(totalSectors)*bytesPerSector)

	boot := image[0:bytesPerSector]
	binary.LittleEndian.PutUint16(boot[11:13], bytesPerSector)
	boot[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(boot[14:16], reserved)
	boot[16] = numFATs
	binary.LittleEndian.PutUint16(boot[17:19], 0) // RootEntryCount = 0 -> FAT32 shaped
	binary.LittleEndian.PutUint16(boot[19:21], 0)
	boot[21] = 0xF8
	binary.LittleEndian.PutUint16(boot[22:24], 0) // SectorsPerFAT16 = 0
	binary.LittleEndian.PutUint32(boot[32:36], totalSectors)
	binary.LittleEndian.PutUint32(boot[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(boot[44:48], 2) // RootCluster
	binary.LittleEndian.PutUint16(boot[48:50], 1) // FSInfoSector

	fsinfo := image[bytesPerSector : 2*bytesPerSector]
	binary.LittleEndian.PutUint32(fsinfo[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(fsinfo[484:488], 0x61417272)
	binary.LittleEndian.PutUint32(fsinfo[488:492], 0xFFFFFFFF) // free count unknown
	binary.LittleEndian.PutUint32(fsinfo[492:496], 3)          // next free hint
	binary.LittleEndian.PutUint32(fsinfo[508:512], 0xAA550000)

	var fatStart uint32 = reserved * bytesPerSector
	fatSizeBytes := fatSizeSectors * bytesPerSector
	for i := 0; i < numFATs; i++ {
		base := fatStart + uint32(i)*fatSizeBytes
		binary.LittleEndian.PutUint32(image[base:base+4], 0x0FFFFFF8)
		binary.LittleEndian.PutUint32(image[base+4:base+8], 0xFFFFFFFF)
		binary.LittleEndian.PutUint32(image[base+8:base+12], 0x0FFFFFFF) // root cluster 2 = EOC
	}

	return image
}

func mountFAT32(t *testing.T) *volume.Volume {
	t.Helper()
	// classify() needs >= 65525 data clusters to shape as FAT32.
	image := buildFAT32Image(t, 65600)
	stream := bytesextra.NewReadWriteSeeker(image)
	v, err := volume.Mount(stream, volume.Options{})
	require.NoError(t, err)
	return v
}

func TestMount_ReadsGeometry(t *testing.T) {
	v := mountFAT32(t)
	require.NotNil(t, v.Root())

	free, err := v.FreeCount()
	require.NoError(t, err)
	require.Greater(t, free, uint32(0))
}

func TestVolume_CreateWriteReadUnmount(t *testing.T) {
	v := mountFAT32(t)

	f, err := v.CreateFile("/hello.txt")
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	reopened, err := v.OpenFile("/hello.txt")
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err = reopened.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, v.Unmount())
	require.NoError(t, v.Unmount()) // idempotent
}

func TestVolume_CreateDirAndNestedFile(t *testing.T) {
	v := mountFAT32(t)

	_, err := v.CreateDir("/sub")
	require.NoError(t, err)

	f, err := v.CreateFile("/sub/nested.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("x"), 0)
	require.NoError(t, err)

	stat, err := v.Stat("/sub/nested.txt")
	require.NoError(t, err)
	require.EqualValues(t, 1, stat.Size)
}

func TestVolume_RemoveFile(t *testing.T) {
	v := mountFAT32(t)

	_, err := v.CreateFile("/gone.txt")
	require.NoError(t, err)
	require.NoError(t, v.Remove("/gone.txt"))

	_, err = v.Stat("/gone.txt")
	require.Error(t, err)
}

func TestVolume_RenameRejectsMoveIntoOwnSubtree(t *testing.T) {
	v := mountFAT32(t)

	_, err := v.CreateDir("/parent")
	require.NoError(t, err)
	_, err = v.CreateDir("/parent/child")
	require.NoError(t, err)

	err = v.Rename("/parent", "/parent/child/parent")
	require.Error(t, err)
}

func TestVolume_RenameAcrossDirectories(t *testing.T) {
	v := mountFAT32(t)

	_, err := v.CreateDir("/dest")
	require.NoError(t, err)
	_, err = v.CreateFile("/movable.txt")
	require.NoError(t, err)

	require.NoError(t, v.Rename("/movable.txt", "/dest/movable.txt"))

	_, err = v.Stat("/movable.txt")
	require.Error(t, err)

	_, err = v.Stat("/dest/movable.txt")
	require.NoError(t, err)
}
