package directory

import (
	"strings"
	"time"

	"github.com/go-fatfs/fatfs/direntry"
	"github.com/go-fatfs/fatfs/ferrors"
)

// FindEntry does a case-insensitive linear scan for name, matching either
// the assembled long name or the decoded short name (spec §4.6). When
// expectedKind is non-nil and the found entry's kind doesn't match, it
// returns IsADirectory or NotADirectory instead of the entry. Every
// visited short name is reported to sink (may be nil).
func (d *Directory) FindEntry(name string, expectedKind *Kind, sink ScanSink) (Entry, error) {
	var found *Entry

	err := d.Walk(sink, func(e Entry) (bool, error) {
		if namesEqualFold(e.Name, name) || namesEqualFold(e.ShortName, name) {
			found = &e
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Entry{}, err
	}
	if found == nil {
		return Entry{}, ferrors.New(ferrors.NotFound)
	}

	if expectedKind != nil && found.Kind != *expectedKind {
		if found.Kind == KindDirectory {
			return Entry{}, ferrors.New(ferrors.IsADirectory)
		}
		return Entry{}, ferrors.New(ferrors.NotADirectory)
	}

	return *found, nil
}

// FindFreeEntries locates the first contiguous run of n free (0xE5) or
// free-rest (0x00) slots, extending the directory's cluster chain via the
// allocator if the existing region runs out before the run completes (spec
// §4.6). The fixed FAT12/16 root cannot be extended and returns NoSpace
// once it fills up.
func (d *Directory) FindFreeEntries(n int) (Slot, error) {
	cur := d.cursor()

	var runStart *Slot
	runLen := 0

	for {
		addr, ok, err := cur.next()
		if err != nil {
			return Slot{}, err
		}
		if !ok {
			break
		}

		raw, err := d.readSlotRaw(addr)
		if err != nil {
			return Slot{}, err
		}
		_, _, free, freeRest := direntry.DecodeRaw(raw)

		if free || freeRest {
			if runLen == 0 {
				s := addr
				runStart = &s
			}
			runLen++
			if runLen == n {
				return *runStart, nil
			}
			continue
		}

		runStart = nil
		runLen = 0
	}

	if runLen == n {
		return *runStart, nil
	}

	if d.isFixedRoot {
		return Slot{}, ferrors.New(ferrors.NoSpace)
	}

	remaining := n - runLen
	slotsPerCluster := int(d.geom.BytesPerCluster) / direntry.Size
	clustersNeeded := (remaining + slotsPerCluster - 1) / slotsPerCluster

	var firstNewCluster uint32
	for i := 0; i < clustersNeeded; i++ {
		c, err := d.extend()
		if err != nil {
			return Slot{}, err
		}
		if i == 0 {
			firstNewCluster = c
		}
	}

	if runLen == 0 {
		return Slot{Cluster: firstNewCluster, Offset: 0}, nil
	}
	return *runStart, nil
}

// splitShortName splits a generated "BASE" or "BASE.EXT" short name back
// into its padded 8/3 components.
func splitShortName(shortName string) (base, ext string) {
	if idx := strings.IndexByte(shortName, '.'); idx >= 0 {
		return shortName[:idx], shortName[idx+1:]
	}
	return shortName, ""
}

// Create locates or creates a child entry named name. If an entry with that
// name already exists, it is returned as-is, unless isDir disagrees with its
// actual kind, in which case an IsADirectory or NotADirectory error is
// returned instead of the entry; otherwise a fresh SFN (and
// LFN group, if the generated short name differs from the requested name)
// is written, allocating a first cluster and "." / ".." records when isDir
// is set (spec §4.6).
func (d *Directory) Create(name string, isDir bool, parent *Directory) (Entry, error) {
	gen := direntry.NewGenerator(name)

	var existing *Entry
	err := d.Walk(gen, func(e Entry) (bool, error) {
		if namesEqualFold(e.Name, name) {
			existing = &e
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Entry{}, err
	}

	if existing != nil {
		wantKind := KindFile
		if isDir {
			wantKind = KindDirectory
		}
		if existing.Kind != wantKind {
			if existing.Kind == KindDirectory {
				return Entry{}, ferrors.New(ferrors.IsADirectory)
			}
			return Entry{}, ferrors.New(ferrors.NotADirectory)
		}
		return *existing, nil
	}

	shortName, err := gen.Generate()
	if err != nil {
		return Entry{}, err
	}
	base, ext := splitShortName(shortName)
	raw11 := direntry.EncodeRawName11(base, ext)
	checksum := direntry.Checksum(raw11)

	skipLFN := strings.EqualFold(name, shortName)
	var longs []direntry.Long
	if !skipLFN {
		longs = direntry.BuildLFNRecords(name, checksum)
	}

	var cluster uint32
	if isDir {
		c, err := d.alloc.Allocate(0)
		if err != nil {
			return Entry{}, err
		}
		cluster = c
		if err := d.writeDotEntries(cluster, parent); err != nil {
			return Entry{}, err
		}
	}

	total := len(longs) + 1
	start, err := d.FindFreeEntries(total)
	if err != nil {
		if isDir {
			_ = d.alloc.DeallocateChain(cluster)
		}
		return Entry{}, err
	}

	bufs := make([][]byte, 0, total)
	for _, l := range longs {
		bufs = append(bufs, direntry.EncodeLong(l))
	}

	now := time.Now()
	date, clock, tenths := direntry.NowToFATTimestamp(now)

	attr := uint8(direntry.AttrArchive)
	if isDir {
		attr = direntry.AttrDirectory
	}

	short := direntry.Short{
		NameRaw:          raw11,
		Attr:             attr,
		CreateTimeTenths: tenths,
		CreateTime:       clock,
		CreateDate:       date,
		LastAccessDate:   date,
		WriteTime:        clock,
		WriteDate:        date,
		FirstClusterLow:  uint16(cluster),
		FirstClusterHigh: uint16(cluster >> 16),
	}
	bufs = append(bufs, direntry.EncodeShort(short))

	if err := d.writeSlotsFrom(start, bufs); err != nil {
		return Entry{}, err
	}

	group := slotsFromStart(start, total, d)
	return entryFromShort(short, longs, group), nil
}

// slotsFromStart re-derives the slot addresses a just-written group
// occupies, since writeSlotsFrom only returns an error.
func slotsFromStart(start Slot, n int, d *Directory) []Slot {
	cur := d.cursorFrom(start)
	out := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		addr, ok, err := cur.next()
		if err != nil || !ok {
			break
		}
		out = append(out, addr)
	}
	return out
}

// writeDotEntries writes the "." and ".." short entries into a freshly
// allocated directory cluster. parent is the directory that will contain
// the new entry; ".." points at parent's first cluster, or 0 if parent is
// the volume root (spec §4.6).
func (d *Directory) writeDotEntries(cluster uint32, parent *Directory) error {
	now := time.Now()
	date, clock, tenths := direntry.NowToFATTimestamp(now)

	parentCluster := uint32(0)
	if parent != nil && !parent.IsRoot() {
		parentCluster = parent.FirstCluster()
	}

	dot := direntry.Short{
		NameRaw: direntry.EncodeRawName11(".", ""), Attr: direntry.AttrDirectory,
		CreateTimeTenths: tenths, CreateTime: clock, CreateDate: date,
		LastAccessDate: date, WriteTime: clock, WriteDate: date,
		FirstClusterLow: uint16(cluster), FirstClusterHigh: uint16(cluster >> 16),
	}
	dotdot := direntry.Short{
		NameRaw: direntry.EncodeRawName11("..", ""), Attr: direntry.AttrDirectory,
		CreateTimeTenths: tenths, CreateTime: clock, CreateDate: date,
		LastAccessDate: date, WriteTime: clock, WriteDate: date,
		FirstClusterLow: uint16(parentCluster), FirstClusterHigh: uint16(parentCluster >> 16),
	}

	sub := Open(d.dev, d.geom, d.table, d.alloc, cluster)
	return sub.writeSlotsFrom(Slot{Cluster: cluster, Offset: 0}, [][]byte{
		direntry.EncodeShort(dot),
		direntry.EncodeShort(dotdot),
	})
}

// Remove deletes entry from the directory: if it is a directory, its
// contents must be only "." and "..", else NotEmpty; its cluster chain (if
// any) is deallocated; every slot in its group has its first byte
// overwritten with the free marker (spec §4.6).
func (d *Directory) Remove(entry Entry) error {
	if entry.Kind == KindDirectory {
		sub := Open(d.dev, d.geom, d.table, d.alloc, entry.Cluster)
		empty := true
		err := sub.Walk(nil, func(e Entry) (bool, error) {
			if e.ShortName != "." && e.ShortName != ".." {
				empty = false
				return true, nil
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		if !empty {
			return ferrors.New(ferrors.NotEmpty)
		}
	}

	if entry.Cluster >= 2 {
		if err := d.alloc.DeallocateChain(entry.Cluster); err != nil {
			return err
		}
	}

	for _, s := range entry.Group() {
		if err := d.writeSlotRaw(s, []byte{direntry.FreeMarker}); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves entry (currently a child of d) to newName inside dst,
// deleting any existing same-kind entry already at the destination first.
// The file's cluster chain is never touched: only a fresh SFN/LFN group is
// written at the destination, copying the original's first-cluster and
// size fields, and the source's group is freed. Renaming the volume root is
// refused (spec §4.6).
func (d *Directory) Rename(entry Entry, dst *Directory, newName string) (Entry, error) {
	if entry.ShortName == "." || entry.ShortName == ".." {
		return Entry{}, ferrors.New(ferrors.PermissionDenied)
	}

	wantKind := &entry.Kind
	if existing, err := dst.FindEntry(newName, wantKind, nil); err == nil {
		if err := dst.Remove(existing); err != nil {
			return Entry{}, err
		}
	} else if !ferrors.Is(err, ferrors.NotFound) {
		return Entry{}, err
	}

	gen := direntry.NewGenerator(newName)
	err := dst.Walk(gen, func(Entry) (bool, error) { return false, nil })
	if err != nil {
		return Entry{}, err
	}

	shortName, err := gen.Generate()
	if err != nil {
		return Entry{}, err
	}
	base, ext := splitShortName(shortName)
	raw11 := direntry.EncodeRawName11(base, ext)
	checksum := direntry.Checksum(raw11)

	skipLFN := strings.EqualFold(newName, shortName)
	var longs []direntry.Long
	if !skipLFN {
		longs = direntry.BuildLFNRecords(newName, checksum)
	}

	newShort := direntry.Short{
		NameRaw:          raw11,
		Attr:             entry.Attr,
		FirstClusterLow:  uint16(entry.Cluster),
		FirstClusterHigh: uint16(entry.Cluster >> 16),
		FileSize:         entry.Size,
	}

	total := len(longs) + 1
	start, err := dst.FindFreeEntries(total)
	if err != nil {
		return Entry{}, err
	}

	bufs := make([][]byte, 0, total)
	for _, l := range longs {
		bufs = append(bufs, direntry.EncodeLong(l))
	}
	bufs = append(bufs, direntry.EncodeShort(newShort))

	if err := dst.writeSlotsFrom(start, bufs); err != nil {
		return Entry{}, err
	}

	if err := d.Remove(entry); err != nil {
		return Entry{}, err
	}

	group := slotsFromStart(start, total, dst)
	return entryFromShort(newShort, longs, group), nil
}

// SetEntryTimes rewrites entry's write and last-access timestamps in place,
// leaving its name, size, and first cluster untouched (futimens at the
// scheme boundary, spec §6).
func (d *Directory) SetEntryTimes(entry Entry, mtime, atime time.Time) error {
	group := entry.Group()
	if len(group) == 0 {
		return ferrors.New(ferrors.InvalidArgument)
	}
	slot := group[len(group)-1]

	raw, err := d.readSlotRaw(slot)
	if err != nil {
		return err
	}
	short, _, _, _ := direntry.DecodeRaw(raw)
	if short == nil {
		return ferrors.New(ferrors.InvalidData)
	}

	wdate, wclock, _ := direntry.NowToFATTimestamp(mtime)
	adate, _, _ := direntry.NowToFATTimestamp(atime)
	short.WriteDate = wdate
	short.WriteTime = wclock
	short.LastAccessDate = adate

	return d.writeSlotRaw(slot, direntry.EncodeShort(*short))
}
