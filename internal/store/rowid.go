// Package store implements the compact in-memory span store (C3): a
// column-oriented, fixed-layout record array sharded by trace id, with
// synchronous secondary indexes for service/trace/error/duration/recency
// lookups. Grounded on the teacher's friggdb storage engine (sharded
// append-only blocks with a row directory) adapted from an on-disk block
// format to an in-memory columnar one, and on
// modules/backendscheduler/cache_sharded.go's sharding idiom.
package store

const shardCount = 16

// RowID addresses a single stored span: the low bits are the row's index
// within its shard's column arrays, the high bits select the shard. This
// keeps a row id a plain uint64 that can live in every secondary index
// without pointer chasing.
type RowID uint64

const shardBits = 8 // supports up to 256 shards; shardCount stays well under that

func newRowID(shard int, idx uint32) RowID {
	return RowID(uint64(shard)<<32 | uint64(idx))
}

func (r RowID) shard() int {
	return int(r >> 32)
}

func (r RowID) index() uint32 {
	return uint32(r & 0xFFFFFFFF)
}

func shardFor(traceIDHash uint64) int {
	return int(traceIDHash % uint64(shardCount))
}
