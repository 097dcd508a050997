package bpb

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// Geometry is a named, pre-derived set of BPB field values for a common FAT
// volume shape (floppy formats, typical partition sizes), looked up by slug
// through GetGeometry; it is not a general-purpose formatter (spec's Non-goals still
// exclude on-the-fly formatting of arbitrary volumes).
type Geometry struct {
	Slug              string `csv:"slug"`
	Name              string `csv:"name"`
	RequestedVariant  int    `csv:"variant"`
	BytesPerSector    uint32 `csv:"bytes_per_sector"`
	SectorsPerCluster uint32 `csv:"sectors_per_cluster"`
	ReservedSectors   uint32 `csv:"reserved_sectors"`
	NumFATs           uint32 `csv:"num_fats"`
	RootEntryCount    uint32 `csv:"root_entries"`
	TotalSectors      uint64 `csv:"total_sectors"`
}

// Variant returns the geometry's declared FAT width.
func (g Geometry) Variant() Variant {
	return Variant(g.RequestedVariant)
}

//go:embed geometry.csv
var rawGeometryCSV string

var knownGeometries map[string]Geometry

// KnownGeometries returns every named geometry preset, keyed by slug.
func KnownGeometries() map[string]Geometry {
	out := make(map[string]Geometry, len(knownGeometries))
	for k, v := range knownGeometries {
		out[k] = v
	}
	return out
}

// GetGeometry looks up a named preset by slug (e.g. "floppy1440").
func GetGeometry(slug string) (Geometry, error) {
	g, ok := knownGeometries[slug]
	if !ok {
		return Geometry{}, fmt.Errorf("no predefined FAT geometry named %q", slug)
	}
	return g, nil
}

func init() {
	knownGeometries = make(map[string]Geometry)
	reader := strings.NewReader(rawGeometryCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Geometry) error {
		if _, exists := knownGeometries[row.Slug]; exists {
			return fmt.Errorf("duplicate FAT geometry preset slug %q", row.Slug)
		}
		knownGeometries[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("bpb: failed to load embedded geometry presets: %s", err))
	}
}
