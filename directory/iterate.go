package directory

import (
	"strings"

	"github.com/go-fatfs/fatfs/direntry"
)

// Kind classifies a directory entry the way the spec's emitted DirEntry
// events do (spec §4.6).
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindVolumeID
)

// Entry is one fully-assembled directory entry: its name (long name if one
// was present, else the decoded short name), its short name (always
// present, used for collision scans and rewrites), and its metadata.
type Entry struct {
	Name      string
	ShortName string
	Kind      Kind
	Attr      uint8
	Cluster   uint32 // first data cluster, 0 for an empty file
	Size      uint32

	group []Slot // every slot (LFN records + SFN) backing this entry, in disk order
}

// Group exposes the slot addresses backing Entry so Remove/Rename can
// overwrite or free them.
func (e Entry) Group() []Slot {
	return e.group
}

// ScanSink receives every short name visited during a walk, so a caller
// building a new name (direntry.Generator) can avoid colliding with
// siblings without a second pass over the directory.
type ScanSink interface {
	AddName(shortName string)
}

// Walk visits every live entry in the directory, in disk order, calling cb
// for each. cb returning stop=true ends the walk early. Every visited SFN
// (from a standalone record or one terminating an LFN group) is reported to
// sink when non-nil, exactly as find_entry's scan_sink does (spec §4.6).
func (d *Directory) Walk(sink ScanSink, cb func(Entry) (stop bool, err error)) error {
	cur := d.cursor()

	state := "start"
	var group []Slot
	var pendingLongs []direntry.Long
	var prevOrdinal uint8
	var prevChecksum uint8

	resetGroup := func() {
		state = "start"
		group = nil
		pendingLongs = nil
	}

	for {
		addr, ok, err := cur.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		raw, err := d.readSlotRaw(addr)
		if err != nil {
			return err
		}

		short, long, free, freeRest := direntry.DecodeRaw(raw)

		if freeRest {
			return nil
		}
		if free {
			resetGroup()
			continue
		}

		switch state {
		case "start":
			if long != nil {
				if !long.IsLast() {
					// Orphan LFN with no lead-in; ignore and stay at start.
					continue
				}
				state = "collecting"
				group = []Slot{addr}
				pendingLongs = []direntry.Long{*long}
				prevOrdinal = long.SequenceNumber()
				prevChecksum = long.Checksum
				continue
			}

			// Standalone short entry.
			e := entryFromShort(*short, nil, []Slot{addr})
			if sink != nil {
				sink.AddName(e.ShortName)
			}
			stop, err := cb(e)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}

		case "collecting":
			if long != nil && long.SequenceNumber() == prevOrdinal-1 && long.Checksum == prevChecksum && prevOrdinal > 1 {
				group = append(group, addr)
				pendingLongs = append(pendingLongs, *long)
				prevOrdinal = long.SequenceNumber()
				continue
			}

			if short != nil && direntry.Checksum(short.NameRaw) == prevChecksum {
				group = append(group, addr)
				e := entryFromShort(*short, pendingLongs, group)
				if sink != nil {
					sink.AddName(e.ShortName)
				}
				resetGroup()
				stop, err := cb(e)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
				continue
			}

			// Orphan group: discard and reprocess this record at Start.
			resetGroup()
			if long != nil {
				if !long.IsLast() {
					continue
				}
				state = "collecting"
				group = []Slot{addr}
				pendingLongs = []direntry.Long{*long}
				prevOrdinal = long.SequenceNumber()
				prevChecksum = long.Checksum
				continue
			}

			e := entryFromShort(*short, nil, []Slot{addr})
			if sink != nil {
				sink.AddName(e.ShortName)
			}
			stop, err := cb(e)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

func entryFromShort(s direntry.Short, longs []direntry.Long, group []Slot) Entry {
	shortName := direntry.DecodeShortName(s.NameRaw)

	name := shortName
	if len(longs) > 0 {
		if assembled, ok := direntry.AssembleName(longs, s); ok {
			name = assembled
		}
	}

	kind := KindFile
	switch {
	case s.Attr&direntry.AttrVolumeID != 0:
		kind = KindVolumeID
	case s.Attr&direntry.AttrDirectory != 0:
		kind = KindDirectory
	}

	return Entry{
		Name:      name,
		ShortName: shortName,
		Kind:      kind,
		Attr:      s.Attr,
		Cluster:   uint32(s.FirstClusterHigh)<<16 | uint32(s.FirstClusterLow),
		Size:      s.FileSize,
		group:     group,
	}
}

func namesEqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}
