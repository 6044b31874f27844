package archive

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
)

// Filter narrows a Query to a subset of rows within each matching
// partition, via bitmap intersection rather than a full-partition scan.
type Filter struct {
	ServiceID  intern.ID // 0 means "any service"
	ErrorsOnly bool
}

// TimeRange bounds a Query to partitions overlapping [Start, End).
type TimeRange struct {
	Start, End time.Time
}

// Reader serves query_archive(filter, time_range) (spec.md §4.7) by
// listing candidate partitions, intersecting their roaring-bitmap indexes
// against Filter, and seeking+decompressing only the surviving rows.
type Reader struct {
	cfg Config
}

// NewReader returns a Reader over the partitions under cfg.RootDir.
func NewReader(cfg Config) *Reader {
	return &Reader{cfg: cfg}
}

// Query scans every partition overlapping tr, returning the spans matching
// f. Partitions are visited in file order; within a partition, the surviving
// rows are read in increasing offset order to keep disk access sequential.
func (r *Reader) Query(f Filter, tr TimeRange) ([]*model.Span, error) {
	entries, err := os.ReadDir(r.cfg.RootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: list partitions: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), dataSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), dataSuffix))
	}
	sort.Strings(keys)

	var out []*model.Span
	for _, key := range keys {
		spans, err := r.queryPartition(key, f, tr)
		if err != nil {
			return nil, err
		}
		out = append(out, spans...)
	}
	return out, nil
}

func (r *Reader) queryPartition(key string, f Filter, tr TimeRange) ([]*model.Span, error) {
	idxPath := filepath.Join(r.cfg.RootDir, key+indexSuffix)
	raw, err := os.ReadFile(idxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: read index %s: %w", key, err)
	}

	var idx partitionIndex
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&idx); err != nil {
		return nil, fmt.Errorf("archive: decode index %s: %w", key, err)
	}

	if !tr.Start.IsZero() && idx.MaxTimestamp < tr.Start.UnixNano() {
		return nil, nil
	}
	if !tr.End.IsZero() && idx.MinTimestamp >= tr.End.UnixNano() {
		return nil, nil
	}

	rows, err := matchingRows(idx, f)
	if err != nil {
		return nil, err
	}
	if rows.IsEmpty() {
		return nil, nil
	}

	byRow := make(map[uint32]dirEntry, len(idx.Directory))
	for _, d := range idx.Directory {
		byRow[d.RowIndex] = d
	}

	dataPath := filepath.Join(r.cfg.RootDir, key+dataSuffix)
	df, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("archive: open data %s: %w", key, err)
	}
	defer df.Close()

	var out []*model.Span
	it := rows.Iterator()
	for it.HasNext() {
		row := it.Next()
		d, ok := byRow[row]
		if !ok {
			continue
		}
		span, err := readSpanAt(df, d)
		if err != nil {
			return nil, fmt.Errorf("archive: read row %d in %s: %w", row, key, err)
		}
		if !tr.Start.IsZero() && span.EndTimeUnixNano() < tr.Start.UnixNano() {
			continue
		}
		if !tr.End.IsZero() && span.StartTimeUnixNano >= tr.End.UnixNano() {
			continue
		}
		out = append(out, span)
	}
	return out, nil
}

func matchingRows(idx partitionIndex, f Filter) (*roaring.Bitmap, error) {
	var result *roaring.Bitmap

	if f.ServiceID != 0 {
		b, ok := idx.ServiceRows[uint16(f.ServiceID)]
		if !ok {
			return roaring.New(), nil
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(b); err != nil {
			return nil, fmt.Errorf("archive: decode service bitmap: %w", err)
		}
		result = bm
	}

	if f.ErrorsOnly {
		errBm := roaring.New()
		if _, err := errBm.FromBuffer(idx.ErrorRows); err != nil {
			return nil, fmt.Errorf("archive: decode error bitmap: %w", err)
		}
		if result == nil {
			result = errBm
		} else {
			result.And(errBm)
		}
	}

	if result == nil {
		// No predicate narrowed the set: every row in the directory matches.
		result = roaring.New()
		for _, d := range idx.Directory {
			result.Add(d.RowIndex)
		}
	}
	return result, nil
}

func readSpanAt(f *os.File, d dirEntry) (*model.Span, error) {
	compressed := make([]byte, d.CompressedLen)
	if _, err := f.ReadAt(compressed, int64(d.Offset)); err != nil {
		return nil, err
	}
	raw, err := zstdDecompressBlock(compressed, int(d.UncompressedLen))
	if err != nil {
		return nil, err
	}
	return decodeSpan(raw)
}
