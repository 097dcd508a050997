package direntry

import (
	"fmt"
	"strings"
)

// Generator produces an 8.3 short name for a long name and resolves
// collisions against a directory's existing siblings (spec §4.5). Callers
// feed every sibling short name seen during a directory scan through
// AddName before calling Generate, so the numeric-tail and checksum-tail
// search windows only ever consider names that are actually free.
type Generator struct {
	long string

	base  string // sanitized, upper-cased basename, <=8 chars before suffixing
	ext   string // sanitized, upper-cased extension, <=3 chars
	lossy bool

	siblings map[string]bool // "BASE.EXT" or "BASE" seen via AddName, upper-cased
}

// NewGenerator starts a short-name search for longName.
func NewGenerator(longName string) *Generator {
	g := &Generator{long: longName, siblings: make(map[string]bool)}
	g.sanitize()
	return g
}

// AddName records a sibling's already-decoded short name (e.g. "FOO.BAR" or
// "FOO") so Generate avoids colliding with it.
func (g *Generator) AddName(existingShortName string) {
	g.siblings[strings.ToUpper(existingShortName)] = true
}

func (g *Generator) sanitize() {
	if g.long == "." || g.long == ".." {
		g.base = g.long
		return
	}

	trimmed := strings.Trim(g.long, ". ")

	base := trimmed
	ext := ""
	if idx := strings.LastIndexByte(trimmed, '.'); idx >= 0 {
		base, ext = trimmed[:idx], trimmed[idx+1:]
	}

	if strings.ContainsAny(base, ". ") {
		g.lossy = true
	}
	base = strings.Map(stripDotsAndSpaces(&g.lossy), base)
	ext = strings.Map(stripDotsAndSpaces(&g.lossy), ext)

	base = sanitizeComponent(base, &g.lossy)
	ext = sanitizeComponent(ext, &g.lossy)

	if len(base) > 8 {
		base = base[:8]
		g.lossy = true
	}
	if len(ext) > 3 {
		ext = ext[:3]
		g.lossy = true
	}

	g.base = base
	g.ext = ext
}

func stripDotsAndSpaces(lossy *bool) func(rune) rune {
	return func(r rune) rune {
		if r == '.' || r == ' ' {
			*lossy = true
			return -1
		}
		return r
	}
}

// sanitizeComponent upper-cases ASCII letters and substitutes any character
// that isn't legal in an 8.3 name component with '_'.
func sanitizeComponent(s string, lossy *bool) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c > 0x7F || !isValidShortNameByte(c) {
			*lossy = true
			c = '_'
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (g *Generator) candidateString(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Generate produces the winning short name ("BASE" or "BASE.EXT" form, still
// needing EncodeRawName11 to become the on-disk 11 bytes).
func (g *Generator) Generate() (string, error) {
	if g.long == "." || g.long == ".." {
		return g.long, nil
	}

	plain := g.candidateString(g.base, g.ext)
	if !g.lossy && !g.siblings[plain] {
		return plain, nil
	}

	base6 := g.base
	if len(base6) > 6 {
		base6 = base6[:6]
	}
	for n := 1; n <= 9; n++ {
		candidate := g.candidateString(fmt.Sprintf("%s~%d", base6, n), g.ext)
		if !g.siblings[candidate] {
			return candidate, nil
		}
	}

	base2 := g.base
	if len(base2) > 2 {
		base2 = base2[:2]
	}

	checksum := fletcher16([]byte(g.long))
	for iteration := 0; iteration < 0x10000; iteration++ {
		sum := (checksum + uint16(iteration)) & 0xFFFF
		for n := 1; n <= 9; n++ {
			candidate := g.candidateString(fmt.Sprintf("%s%04X~%d", base2, sum, n), g.ext)
			if !g.siblings[candidate] {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("direntry: exhausted short-name search space for %q", g.long)
}

// fletcher16 computes the Fletcher-16 checksum of data (spec §4.5's
// checksum-tail fallback).
func fletcher16(data []byte) uint16 {
	var sum1, sum2 uint32
	for _, b := range data {
		sum1 = (sum1 + uint32(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return uint16(sum2<<8 | sum1)
}
