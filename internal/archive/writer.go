package archive

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
)

const (
	dataSuffix = ".archive"
	indexSuffix = ".index"
	tmpSuffix   = ".tmp"
)

// Config controls where and how the archive writer partitions data.
type Config struct {
	RootDir     string
	Granularity Granularity
}

// openPartition is a partition currently accepting writes. Its data file
// is written at its final path plus tmpSuffix until Close renames it into
// place, matching friggdb/wal/head_block.go's build-then-rename completion
// pattern so a reader never opens a partially written data file.
type openPartition struct {
	key string

	dataPath    string
	dataTmpPath string
	indexPath   string

	f        *os.File
	offset   uint64
	rowSeq   uint32

	dir          []dirEntry
	serviceRows  map[uint16]*roaring.Bitmap
	errorRows    *roaring.Bitmap
	minTS, maxTS int64
}

// Writer implements store.Archiver, writing evicted spans into
// time-bucketed partitions keyed by Config.Granularity.
type Writer struct {
	cfg  Config
	pool *intern.Pool

	mu      sync.Mutex
	current *openPartition
}

// NewWriter returns a Writer rooted at cfg.RootDir, creating it if needed.
// pool is used to intern service names into the ids the roaring indexes
// are keyed on, shared with the live store's pool so ids agree across
// hot and cold tiers.
func NewWriter(cfg Config, pool *intern.Pool) (*Writer, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root dir: %w", err)
	}
	return &Writer{cfg: cfg, pool: pool}, nil
}

// Archive implements store.Archiver. It is called synchronously from the
// store's eviction path, so it must not block on anything slower than a
// buffered file write; rollover to a new partition only happens when the
// bucket key changes.
func (w *Writer) Archive(spans []*model.Span) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range spans {
		if err := w.writeSpan(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeSpan(s *model.Span) error {
	t := time.Unix(0, s.StartTimeUnixNano)
	key := partitionKey(t, w.cfg.Granularity)

	if w.current != nil && w.current.key != key {
		if err := w.closeCurrentLocked(); err != nil {
			return err
		}
	}
	if w.current == nil {
		p, err := w.openPartitionLocked(key)
		if err != nil {
			return err
		}
		w.current = p
	}

	return w.appendLocked(w.current, s)
}

func (w *Writer) openPartitionLocked(key string) (*openPartition, error) {
	dataPath := filepath.Join(w.cfg.RootDir, key+dataSuffix)
	tmpPath := dataPath + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open partition %s: %w", key, err)
	}
	return &openPartition{
		key:         key,
		dataPath:    dataPath,
		dataTmpPath: tmpPath,
		indexPath:   filepath.Join(w.cfg.RootDir, key+indexSuffix),
		f:           f,
		serviceRows: make(map[uint16]*roaring.Bitmap),
		errorRows:   roaring.New(),
	}, nil
}

func (w *Writer) appendLocked(p *openPartition, s *model.Span) error {
	raw, err := encodeSpan(s)
	if err != nil {
		return fmt.Errorf("archive: encode span: %w", err)
	}

	compressed, err := zstdCompressBlock(raw)
	if err != nil {
		return fmt.Errorf("archive: compress span: %w", err)
	}

	if _, err := p.f.Write(compressed); err != nil {
		return fmt.Errorf("archive: write span: %w", err)
	}

	row := p.rowSeq
	p.dir = append(p.dir, dirEntry{
		RowIndex:        row,
		Offset:          p.offset,
		CompressedLen:   uint32(len(compressed)),
		UncompressedLen: uint32(len(raw)),
	})
	p.offset += uint64(len(compressed))
	p.rowSeq++

	serviceID, err := w.pool.Intern(s.Service)
	if err != nil {
		return fmt.Errorf("archive: intern service: %w", err)
	}
	bm, ok := p.serviceRows[uint16(serviceID)]
	if !ok {
		bm = roaring.New()
		p.serviceRows[uint16(serviceID)] = bm
	}
	bm.Add(row)
	if s.HasError() {
		p.errorRows.Add(row)
	}

	if p.minTS == 0 || s.StartTimeUnixNano < p.minTS {
		p.minTS = s.StartTimeUnixNano
	}
	if end := s.EndTimeUnixNano(); end > p.maxTS {
		p.maxTS = end
	}
	return nil
}

func (w *Writer) closeCurrentLocked() error {
	p := w.current
	w.current = nil
	if p == nil {
		return nil
	}
	return closePartition(p)
}

func closePartition(p *openPartition) error {
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		return fmt.Errorf("archive: sync data file: %w", err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("archive: close data file: %w", err)
	}

	idx := partitionIndex{
		MinTimestamp: p.minTS,
		MaxTimestamp: p.maxTS,
		ServiceRows:  make(map[uint16][]byte, len(p.serviceRows)),
		Directory:    p.dir,
	}
	for svc, bm := range p.serviceRows {
		b, err := bm.ToBytes()
		if err != nil {
			return fmt.Errorf("archive: serialize service bitmap: %w", err)
		}
		idx.ServiceRows[svc] = b
	}
	errBytes, err := p.errorRows.ToBytes()
	if err != nil {
		return fmt.Errorf("archive: serialize error bitmap: %w", err)
	}
	idx.ErrorRows = errBytes

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(idx); err != nil {
		return fmt.Errorf("archive: encode index: %w", err)
	}
	indexTmp := p.indexPath + tmpSuffix
	if err := os.WriteFile(indexTmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("archive: write index: %w", err)
	}

	// Rename-on-close: the data file and its index land under their final
	// names only once fully written (only the data file is fsynced). The
	// two renames are separate steps; a Reader that finds the data file
	// before its index is in place skips that partition.
	if err := os.Rename(p.dataTmpPath, p.dataPath); err != nil {
		return fmt.Errorf("archive: finalize data file: %w", err)
	}
	if err := os.Rename(indexTmp, p.indexPath); err != nil {
		return fmt.Errorf("archive: finalize index file: %w", err)
	}
	return nil
}

// Close finalizes any partition still open for writes. Callers should call
// this during shutdown so the last, possibly short, partition isn't lost.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrentLocked()
}
