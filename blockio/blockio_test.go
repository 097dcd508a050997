package blockio_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/go-fatfs/fatfs/blockio"
)

func newImage(t *testing.T, size int) ([]byte, *blockio.Device) {
	t.Helper()
	data := make([]byte, size)
	stream := bytesextra.NewReadWriteSeeker(data)
	return data, blockio.New(stream, 512, 0)
}

func TestReadRange_WholeSector(t *testing.T) {
	data, dev := newImage(t, 512*4)
	copy(data[512:1024], bytes.Repeat([]byte{0xAB}, 512))

	buf := make([]byte, 512)
	require.NoError(t, dev.ReadRange(512, buf))
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 512), buf)
}

func TestReadRange_PartialOverlap(t *testing.T) {
	data, dev := newImage(t, 512*2)
	for i := range data {
		data[i] = byte(i)
	}

	buf := make([]byte, 10)
	require.NoError(t, dev.ReadRange(508, buf))
	require.Equal(t, data[508:518], buf)
}

func TestWriteRange_PreservesNeighboringBytes(t *testing.T) {
	data, dev := newImage(t, 512*2)
	for i := range data {
		data[i] = 0xFF
	}

	require.NoError(t, dev.WriteRange(510, []byte{0x01, 0x02, 0x03, 0x04}))

	require.Equal(t, byte(0xFF), data[509])
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data[510:514])
	require.Equal(t, byte(0xFF), data[514])
}

func TestWriteRange_SpansMultipleSectors(t *testing.T) {
	data, dev := newImage(t, 512*3)
	payload := bytes.Repeat([]byte{0x42}, 600)

	require.NoError(t, dev.WriteRange(400, payload))
	require.Equal(t, payload, data[400:1000])
}

func TestPartitionOffset(t *testing.T) {
	data := make([]byte, 512*4)
	stream := bytesextra.NewReadWriteSeeker(data)
	dev := blockio.New(stream, 512, 1024)

	require.NoError(t, dev.WriteRange(0, []byte{0x55}))
	require.Equal(t, byte(0x55), data[1024])
}
