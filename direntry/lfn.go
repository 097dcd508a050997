package direntry

import "unicode/utf16"

// AssembleName reconstructs a long file name from an ordered run of LFN
// records (as encountered walking forward on disk, highest ordinal first)
// terminated by the short entry that carries the group's checksum (spec
// §4.5/§4.6). It reports ok=false if the group fails any of the spec's
// disqualifying checks, in which case callers fall back to the short name.
func AssembleName(longs []Long, short Short) (name string, ok bool) {
	n := len(longs)
	if n == 0 {
		return "", false
	}
	if !longs[0].IsLast() {
		return "", false
	}

	expectedChecksum := Checksum(short.NameRaw)

	for i, l := range longs {
		wantOrdinal := uint8(n - i)
		if l.SequenceNumber() != wantOrdinal {
			return "", false
		}
		if l.Checksum != expectedChecksum {
			return "", false
		}
	}

	units := make([]uint16, 0, n*13)
	for i := n - 1; i >= 0; i-- {
		units = append(units, longs[i].NameChars[:]...)
	}

	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}

	return u16sToString(units), true
}

// u16sToString decodes UTF-16 code units into a Go string.
func u16sToString(units []uint16) string {
	return string(utf16.Decode(units))
}

// BuildLFNRecords splits name into the ordered run of Long records needed to
// store it (physically-first record carries the highest ordinal and the
// 0x40 last-logical bit, per spec §4.5/§4.6), each stamped with checksum.
// The terminator 0x0000 and any trailing 0xFFFF padding are written into the
// final record exactly as the FAT standard requires.
func BuildLFNRecords(name string, checksum uint8) []Long {
	units := utf16.Encode([]rune(name))

	const perRecord = 13
	count := len(units)/perRecord + 1 // room for the 0x0000 terminator

	records := make([]Long, count)
	for idx := 0; idx < count; idx++ {
		var chars [13]uint16
		// Record idx carries ordinal count-idx, so it holds chunk count-1-idx.
		base := (count - 1 - idx) * perRecord
		for i := 0; i < perRecord; i++ {
			pos := base + i
			switch {
			case pos < len(units):
				chars[i] = units[pos]
			case pos == len(units):
				chars[i] = 0x0000
			default:
				chars[i] = 0xFFFF
			}
		}

		ordinal := uint8(count - idx)
		if idx == 0 {
			ordinal |= 0x40
		}

		records[idx] = Long{
			Ordinal:   ordinal,
			NameChars: chars,
			Attr:      AttrLongName,
			Type:      0,
			Checksum:  checksum,
		}
	}

	return records
}
