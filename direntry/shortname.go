package direntry

import "strings"

// DecodeShortName turns an 11-byte raw short-name field into its display
// form: split at 8/3, trailing spaces trimmed from each half, joined with a
// '.' when the extension is non-empty (spec §4.5).
func DecodeShortName(raw [11]byte) string {
	nameBytes := make([]byte, 11)
	copy(nameBytes, raw[:])
	if nameBytes[0] == kanjiE5Escape {
		nameBytes[0] = FreeMarker
	}
	base := nameBytes[:8]
	ext := nameBytes[8:11]

	baseStr := decodeBytes(base)
	extStr := decodeBytes(ext)

	if extStr == "" {
		return baseStr
	}
	return baseStr + "." + extStr
}

func decodeBytes(b []byte) string {
	trimmed := strings.TrimRight(string(b), " ")
	var sb strings.Builder
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c > 0x7F {
			sb.WriteRune('�')
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// invalidShortNameChars are bytes that may never appear in an 8.3 name
// component (spec §4.5 / FAT standard forbidden-character set).
const invalidShortNameChars = "\"*+,/:;<=>?[\\]|"

func isValidShortNameByte(b byte) bool {
	if b < 0x20 || b == 0x7F {
		return false
	}
	return !strings.ContainsRune(invalidShortNameChars, rune(b))
}

// EncodeRawName11 packs an upper-cased base (<=8) and extension (<=3) into
// the 11-byte space-padded raw form used on disk.
func EncodeRawName11(base, ext string) [11]byte {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[0:8], []byte(base))
	copy(raw[8:11], []byte(ext))
	if raw[0] == FreeMarker {
		raw[0] = kanjiE5Escape
	}
	return raw
}
