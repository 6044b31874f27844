package store

import (
	"sync"

	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/model"
	"github.com/urpo-dev/urpo/internal/sampling"
)

// row is one column-oriented record. Real column-per-field storage (as
// spec.md §4.3 describes) would split this into separate parallel slices;
// here the fields are grouped into a single struct per row (an array of
// structs) so
// Go's GC and bounds checks stay simple while keeping the same fixed-width
// shape per row (no embedded pointers into shared mutable state other than
// the interned strings and the Attributes/Events maps, which are owned
// per-row and never mutated after Store()).
type row struct {
	serviceID    intern.ID
	operationID  intern.ID
	traceID      string
	spanID       string
	parentSpanID string
	traceIDHash  uint64
	kind         model.Kind
	statusCode   model.StatusCode
	statusMsg    string
	startTime    int64
	duration     int64
	attributes   map[string]string
	events       []model.Event
	insertedAt   int64 // monotonic insertion sequence, used for LRU eviction
	priority     sampling.Priority
	live         bool
}

// shard owns one slice of the column store plus the secondary state that
// can be partitioned by trace-id hash: the free list and the by-trace
// index (by_trace only ever needs rows that hashed into this shard).
type shard struct {
	mu sync.RWMutex

	rows []row
	free []uint32

	byTraceHash map[uint64][]RowID
}

func newShard(prealloc int) *shard {
	return &shard{
		rows:        make([]row, 0, prealloc),
		byTraceHash: make(map[uint64][]RowID, prealloc),
	}
}

// insert appends or reuses a freed slot, returning the new row's id. Caller
// holds no lock; insert takes the shard's write lock itself.
func (sh *shard) insert(shardIdx int, r row) RowID {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var idx uint32
	if n := len(sh.free); n > 0 {
		idx = sh.free[n-1]
		sh.free = sh.free[:n-1]
		sh.rows[idx] = r
	} else {
		idx = uint32(len(sh.rows))
		sh.rows = append(sh.rows, r)
	}

	id := newRowID(shardIdx, idx)
	sh.byTraceHash[r.traceIDHash] = append(sh.byTraceHash[r.traceIDHash], id)
	return id
}

// get returns a copy of the row at idx, and whether it is still live.
func (sh *shard) get(idx uint32) (row, bool) {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if int(idx) >= len(sh.rows) {
		return row{}, false
	}
	r := sh.rows[idx]
	return r, r.live
}

// rowIDsForHash returns a copy of the hash bucket's row ids. Rows of other
// traces whose id hashes the same are included; callers recheck the full
// trace id (collision recheck, spec.md §4.3).
func (sh *shard) rowIDsForHash(hash uint64) []RowID {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]RowID, len(sh.byTraceHash[hash]))
	copy(out, sh.byTraceHash[hash])
	return out
}

// setPriority updates idx's stored eviction priority in place, used when
// the tail sampler grants a deferred trace a higher priority than the
// provisional one it was inserted with.
func (sh *shard) setPriority(idx uint32, p sampling.Priority) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if int(idx) >= len(sh.rows) || !sh.rows[idx].live {
		return
	}
	sh.rows[idx].priority = p
}

// evict marks idx reusable and drops it from the by-trace-hash bucket. The
// caller must have already removed idx from every global secondary index
// before calling this (spec.md §4.3 "row reuse is safe only after all
// secondary indexes have removed the id").
func (sh *shard) evict(idx uint32) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if int(idx) >= len(sh.rows) || !sh.rows[idx].live {
		return
	}
	r := &sh.rows[idx]
	bucket := sh.byTraceHash[r.traceIDHash]
	for i, id := range bucket {
		if id.index() == idx {
			bucket[i] = bucket[len(bucket)-1]
			sh.byTraceHash[r.traceIDHash] = bucket[:len(bucket)-1]
			break
		}
	}
	if len(sh.byTraceHash[r.traceIDHash]) == 0 {
		delete(sh.byTraceHash, r.traceIDHash)
	}
	*r = row{}
	sh.free = append(sh.free, idx)
}
