// Package archive implements the cold-storage tier (C7): time-partitioned
// immutable files with roaring-bitmap indexes, written with
// rename-on-close semantics so a reader never observes a half-written
// partition. Grounded on friggdb/wal/head_block.go's Complete() (build in
// a work dir, then os.Rename into place) and friggdb/encoding/record.go's
// fixed-width directory-entry format, adapted from an on-disk block
// format keyed by trace id to one keyed by sequential row index plus
// roaring-bitmap secondary indexes (spec.md §4.7 requires bitmaps; the
// teacher's own bloom-filter block index is the closest analog it has).
package archive

import "time"

// Granularity selects the partition file naming scheme. Mixing
// granularities within one root directory is forbidden (spec.md §9 open
// question): a Writer is constructed with exactly one.
type Granularity uint8

const (
	GranularityHour Granularity = iota
	GranularityDay
)

// partitionKey returns the file stem (without extension) for t under g,
// e.g. "20260731_14" for hourly or "20260731" for daily.
func partitionKey(t time.Time, g Granularity) string {
	t = t.UTC()
	if g == GranularityDay {
		return t.Format("20060102")
	}
	return t.Format("20060102_15")
}

// dirEntry is one row's location within a partition's data file.
type dirEntry struct {
	RowIndex        uint32
	Offset          uint64
	CompressedLen   uint32
	UncompressedLen uint32
}

// partitionIndex is the in-memory structure flushed to the .index file at
// partition close: per-service and per-error roaring bitmaps over row
// index, a min/max timestamp, and the row directory. Serialized with
// encoding/gob (see DESIGN.md: OTLP wire decode uses protobuf via
// collector/pdata, but archive persistence is an internal format with no
// wire-compatibility requirement, so the stdlib's self-describing codec
// is the simplest correct choice here).
type partitionIndex struct {
	MinTimestamp int64
	MaxTimestamp int64
	ServiceRows  map[uint16][]byte // gob-friendly roaring.Bitmap.ToBytes() snapshots
	ErrorRows    []byte
	Directory    []dirEntry
}
