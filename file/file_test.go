package file_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/go-fatfs/fatfs/blockio"
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/directory"
	"github.com/go-fatfs/fatfs/fat"
	"github.com/go-fatfs/fatfs/file"
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

func (v *testVolume) openFile(t *testing.T, name string) *file.File {
	t.Helper()
	entry, err := v.root.Create(name, false, nil)
	require.NoError(t, err)
	return file.Open(v.dev, v.geom, v.table, v.alloc, v.root, entry)
}

func TestFile_WriteThenReadBackWithinOneCluster(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "a.txt")

	payload := []byte("hello, fat filesystem")
	n, err := f.Write(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, len(payload), f.Size())

	buf := make([]byte, len(payload))
	n, err = f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestFile_WriteSpanningMultipleClusters(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "big.bin")

	payload := make([]byte, 512*3+100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	n, err := f.Write(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)
}

func TestFile_WritePastEOFZeroFillsHole(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "hole.bin")

	_, err := f.Write([]byte("AAAA"), 0)
	require.NoError(t, err)

	_, err = f.Write([]byte("BBBB"), 100)
	require.NoError(t, err)
	require.EqualValues(t, 104, f.Size())

	buf := make([]byte, 104)
	n, err := f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 104, n)
	require.Equal(t, []byte("AAAA"), buf[:4])
	for _, b := range buf[4:100] {
		require.Zero(t, b)
	}
	require.Equal(t, []byte("BBBB"), buf[100:104])
}

func TestFile_ReadPastEOFReturnsZero(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "small.txt")

	_, err := f.Write([]byte("hi"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := f.Read(buf, 2)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFile_TruncateShrinksAndFreesTailClusters(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "trunc.bin")

	payload := make([]byte, 512*3)
	_, err := f.Write(payload, 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(10))
	require.EqualValues(t, 10, f.Size())

	buf := make([]byte, 10)
	n, err := f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestFile_TruncateToZeroFreesChain(t *testing.T) {
	v := newFAT32Volume(t)
	f := v.openFile(t, "empty.bin")

	_, err := f.Write([]byte("some data"), 0)
	require.NoError(t, err)
	require.NotZero(t, f.FirstCluster())

	require.NoError(t, f.Truncate(0))
	require.Zero(t, f.Size())
	require.Zero(t, f.FirstCluster())
}
