package health

import "sort"

// gkTuple is one summary entry of the Greenwald-Khanna quantile sketch:
// v is the observed value, g is the minimum rank gap since the previous
// entry, and delta is the maximum possible rank error for v.
type gkTuple struct {
	v     int64
	g     int64
	delta int64
}

// gkSketch is a Greenwald-Khanna epsilon-approximate quantile summary.
// There is no roaring-bitmap-adjacent streaming-quantile library in the
// pack's dependency surface (see DESIGN.md); this is a direct, unmodified
// implementation of the 2001 GK algorithm the spec names explicitly
// (spec.md §4.9 "p50/p95/p99 approx via Greenwald-Khanna sketch").
type gkSketch struct {
	epsilon float64
	n       int64
	entries []gkTuple
}

func newGKSketch(epsilon float64) *gkSketch {
	return &gkSketch{epsilon: epsilon}
}

// Insert adds v (nanoseconds of latency) to the summary.
func (s *gkSketch) Insert(v int64) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].v >= v })

	var delta int64
	if i == 0 || i == len(s.entries) {
		delta = 0
	} else {
		delta = int64(2*s.epsilon*float64(s.n)) - 1
		if delta < 0 {
			delta = 0
		}
	}

	t := gkTuple{v: v, g: 1, delta: delta}
	s.entries = append(s.entries, gkTuple{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = t
	s.n++

	if s.n%int64(1/(2*s.epsilon)+1) == 0 {
		s.compress()
	}
}

// compress merges adjacent tuples whose combined band still satisfies the
// epsilon error bound, bounding the summary's memory to O(1/epsilon log
// (epsilon*n)).
func (s *gkSketch) compress() {
	if len(s.entries) < 3 {
		return
	}
	threshold := int64(2 * s.epsilon * float64(s.n))
	out := make([]gkTuple, 0, len(s.entries))
	out = append(out, s.entries[0])
	for i := 1; i < len(s.entries)-1; i++ {
		cur := s.entries[i]
		prev := &out[len(out)-1]
		if prev.g+cur.g+cur.delta <= threshold {
			prev.g += cur.g
			continue
		}
		out = append(out, cur)
	}
	out = append(out, s.entries[len(s.entries)-1])
	s.entries = out
}

// Quantile returns the approximate value at quantile q in [0, 1]. Returns 0
// if no values have been observed.
func (s *gkSketch) Quantile(q float64) int64 {
	if len(s.entries) == 0 {
		return 0
	}
	rank := int64(q * float64(s.n))
	threshold := int64(s.epsilon * float64(s.n))

	var r int64
	for i, t := range s.entries {
		r += t.g
		if r+t.delta > rank+threshold {
			if i == 0 {
				return t.v
			}
			return s.entries[i-1].v
		}
	}
	return s.entries[len(s.entries)-1].v
}
