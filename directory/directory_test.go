package directory_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/fat"
)

type testVolume struct {
	dev   *blockio.Device
	geom  *bpb.BPB
	table *fat.Table
	alloc *fat.Allocator
	root  *directory.Directory
}

func newFAT32Volume(t *testing.T) *testVolume {
	t.Helper()

	geom := &bpb.BPB{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		ReservedSectors:   8,
		NumFATs:           2,
		FATSize:           4,
		Variant:           bpb.FAT32,
		FirstDataSector:   8 + 2*4,
		RootCluster:       2,
		TotalClusters:     200,
		BytesPerCluster:   512,
	}

	imageSize := (int(geom.FirstDataSector) + 200) * 512
	data := make([]byte, imageSize)
	stream := bytesextra.NewReadWriteSeeker(data)
	dev := blockio.New(stream, 512, 0)

	table := fat.New(dev, geom)
	require.NoError(t, table.SetEntry(2, fat.Entry{Kind: fat.EndOfChain}))

	alloc := fat.NewAllocator(table, dev, geom, nil)
	root := directory.NewRoot(dev, geom, table, alloc)

	return &testVolume{dev: dev, geom: geom, table: table, alloc: alloc, root: root}
}

func (v *testVolume) open(firstCluster uint32) *directory.Directory {
	return directory.Open(v.dev, v.geom, v.table, v.alloc, firstCluster)
}

func TestCreateFile_SimpleName(t *testing.T) {
	v := newFAT32Volume(t)

	entry, err := v.root.Create("readme.txt", false, nil)
	require.NoError(t, err)
	require.Equal(t, "README.TXT", entry.ShortName)
	require.Equal(t, directory.KindFile, entry.Kind)

	found, err := v.root.FindEntry("readme.txt", nil, nil)
	require.NoError(t, err)
	require.Equal(t, entry.ShortName, found.ShortName)
}

func TestCreateFile_LongNameGetsLFN(t *testing.T) {
	v := newFAT32Volume(t)

	entry, err := v.root.Create("verylongfilename.dat", false, nil)
	require.NoError(t, err)
	require.Equal(t, "VERYLO~1.DAT", entry.ShortName)
	require.Equal(t, "verylongfilename.dat", entry.Name)
	require.Greater(t, len(entry.Group()), 1)

	found, err := v.root.FindEntry("verylongfilename.dat", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "verylongfilename.dat", found.Name)
}

func TestCreateFile_ReturnsExistingOnCollision(t *testing.T) {
	v := newFAT32Volume(t)

	first, err := v.root.Create("readme.txt", false, nil)
	require.NoError(t, err)

	second, err := v.root.Create("readme.txt", false, nil)
	require.NoError(t, err)
	require.Equal(t, first.ShortName, second.ShortName)
}

func TestCreateDir_WritesDotEntries(t *testing.T) {
	v := newFAT32Volume(t)

	sub, err := v.root.Create("subdir", true, v.root)
	require.NoError(t, err)
	require.Equal(t, directory.KindDirectory, sub.Kind)
	require.NotZero(t, sub.Cluster)

	subDir := v.open(sub.Cluster)
	var names []string
	require.NoError(t, subDir.Walk(nil, func(e directory.Entry) (bool, error) {
		names = append(names, e.ShortName)
		return false, nil
	}))
	require.ElementsMatch(t, []string{".", ".."}, names)
}

func TestRemove_FileFreesSlots(t *testing.T) {
	v := newFAT32Volume(t)

	entry, err := v.root.Create("readme.txt", false, nil)
	require.NoError(t, err)

	require.NoError(t, v.root.Remove(entry))

	_, err = v.root.FindEntry("readme.txt", nil, nil)
	require.Error(t, err)
}

func TestRemove_NonEmptyDirFails(t *testing.T) {
	v := newFAT32Volume(t)

	sub, err := v.root.Create("subdir", true, v.root)
	require.NoError(t, err)

	subDir := v.open(sub.Cluster)
	_, err = subDir.Create("child.txt", false, subDir)
	require.NoError(t, err)

	require.Error(t, v.root.Remove(sub))
}

func TestRename_MovesEntryWithinSameDirectory(t *testing.T) {
	v := newFAT32Volume(t)

	entry, err := v.root.Create("oldname.txt", false, nil)
	require.NoError(t, err)

	renamed, err := v.root.Rename(entry, v.root, "newname.txt")
	require.NoError(t, err)
	require.Equal(t, "NEWNAME.TXT", renamed.ShortName)
	require.Equal(t, entry.Cluster, renamed.Cluster)

	_, err = v.root.FindEntry("oldname.txt", nil, nil)
	require.Error(t, err)

	found, err := v.root.FindEntry("newname.txt", nil, nil)
	require.NoError(t, err)
	require.Equal(t, renamed.ShortName, found.ShortName)
}
