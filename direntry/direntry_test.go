package direntry_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/direntry"
)

func TestShortRecord_RoundTrip(t *testing.T) {
	s := direntry.Short{
		NameRaw:          direntry.EncodeRawName11("README", "TXT"),
		Attr:             direntry.AttrArchive,
		FirstClusterLow:  5,
		FirstClusterHigh: 0,
		FileSize:         1024,
	}
	buf := direntry.EncodeShort(s)
	require.Len(t, buf, direntry.Size)

	short, long, free, freeRest := direntry.DecodeRaw(buf)
	require.False(t, free)
	require.False(t, freeRest)
	require.Nil(t, long)
	require.NotNil(t, short)
	require.Equal(t, uint32(1024), short.FileSize)
	require.Equal(t, "README.TXT", direntry.DecodeShortName(short.NameRaw))
}

func TestDecodeRaw_FreeMarkers(t *testing.T) {
	buf := make([]byte, direntry.Size)
	buf[0] = direntry.FreeMarker
	_, _, free, freeRest := direntry.DecodeRaw(buf)
	require.True(t, free)
	require.False(t, freeRest)

	buf2 := make([]byte, direntry.Size)
	_, _, free2, freeRest2 := direntry.DecodeRaw(buf2)
	require.False(t, free2)
	require.True(t, freeRest2)
}

func TestDecodeShortName_KanjiEscape(t *testing.T) {
	raw := direntry.EncodeRawName11("FOO", "BAR")
	raw[0] = 0x05
	// Byte 0 maps back to 0xE5, which is non-ASCII and decodes as U+FFFD.
	require.Equal(t, "�OO.BAR", direntry.DecodeShortName(raw))
}

func TestChecksum_MatchesKnownVector(t *testing.T) {
	// "README  TXT" (8.3 padded) short name, checksum computed by hand via
	// the FAT rotate-right-8-then-add algorithm.
	raw := direntry.EncodeRawName11("README", "TXT")
	sum := direntry.Checksum(raw)

	var want uint8
	for _, b := range raw {
		want = ((want & 1) << 7) | (want >> 1)
		want += b
	}
	require.Equal(t, want, sum)
}

func TestBuildAndAssembleLFN_RoundTrip(t *testing.T) {
	const longName = "verylongfilename.dat"
	short := direntry.Short{NameRaw: direntry.EncodeRawName11("VERYLO~1", "DAT")}
	checksum := direntry.Checksum(short.NameRaw)

	records := direntry.BuildLFNRecords(longName, checksum)
	require.Greater(t, len(records), 0)
	require.True(t, records[0].IsLast())

	name, ok := direntry.AssembleName(records, short)
	require.True(t, ok)
	require.Equal(t, longName, name)
}

func TestAssembleName_RejectsChecksumMismatch(t *testing.T) {
	short := direntry.Short{NameRaw: direntry.EncodeRawName11("VERYLO~1", "DAT")}
	records := direntry.BuildLFNRecords("verylongfilename.dat", direntry.Checksum(short.NameRaw)+1)

	_, ok := direntry.AssembleName(records, short)
	require.False(t, ok)
}

func TestAssembleName_RejectsBrokenSequence(t *testing.T) {
	short := direntry.Short{NameRaw: direntry.EncodeRawName11("VERYLO~1", "DAT")}
	records := direntry.BuildLFNRecords("verylongfilename.dat", direntry.Checksum(short.NameRaw))
	if len(records) > 1 {
		records[1].Ordinal = records[1].Ordinal + 5
	}

	_, ok := direntry.AssembleName(records, short)
	require.False(t, ok)
}

func TestGenerator_ExactFitNoSuffix(t *testing.T) {
	g := direntry.NewGenerator("readme.txt")
	name, err := g.Generate()
	require.NoError(t, err)
	require.Equal(t, "README.TXT", name)
}

func TestGenerator_LongNameGetsNumericTail(t *testing.T) {
	g := direntry.NewGenerator("verylongfilename.dat")
	name, err := g.Generate()
	require.NoError(t, err)
	require.Equal(t, "VERYLO~1.DAT", name)
}

func TestGenerator_CollisionAdvancesSuffix(t *testing.T) {
	g := direntry.NewGenerator("verylongfilename.dat")
	g.AddName("VERYLO~1.DAT")
	g.AddName("VERYLO~2.DAT")
	name, err := g.Generate()
	require.NoError(t, err)
	require.Equal(t, "VERYLO~3.DAT", name)
}

func TestGenerator_DotNames(t *testing.T) {
	g := direntry.NewGenerator(".")
	name, err := g.Generate()
	require.NoError(t, err)
	require.Equal(t, ".", name)

	g2 := direntry.NewGenerator("..")
	name2, err := g2.Generate()
	require.NoError(t, err)
	require.Equal(t, "..", name2)
}

func TestGenerator_FallsBackToChecksumAfterNineCollisions(t *testing.T) {
	g := direntry.NewGenerator("verylongfilename.dat")
	for n := 1; n <= 9; n++ {
		g.AddName(fmt.Sprintf("VERYLO~%d.DAT", n))
	}
	name, err := g.Generate()
	require.NoError(t, err)
	require.NotContains(t, name, "VERYLO~")
	require.Contains(t, name, "~")
}
