package pinheap

import "sort"

// Segregated dispatches allocations to one of several size-class sub-heaps
// (hydra/allocators/SegregatedFitHeap.h), each typically a FreeList over a
// Zone, so that same-size allocations (table entries, cells of one type)
// reuse each other's memory without ever consulting a size-class unrelated
// to their own. Requests larger than every configured class fall through to
// overflow.
type Segregated struct {
	classes  []int
	heaps    []Heap
	overflow Heap
}

// SizeClass pairs an upper bound with the Heap serving allocations up to it.
type SizeClass struct {
	MaxBytes int
	Heap     Heap
}

// NewSegregated builds a size-class dispatcher. classes need not be sorted;
// NewSegregated sorts them ascending by MaxBytes. overflow serves requests
// larger than the largest class.
func NewSegregated(classes []SizeClass, overflow Heap) *Segregated {
	cs := append([]SizeClass(nil), classes...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].MaxBytes < cs[j].MaxBytes })
	s := &Segregated{overflow: overflow}
	for _, c := range cs {
		s.classes = append(s.classes, c.MaxBytes)
		s.heaps = append(s.heaps, c.Heap)
	}
	return s
}

func (s *Segregated) classFor(n int) Heap {
	idx := sort.SearchInts(s.classes, n)
	if idx == len(s.classes) {
		return s.overflow
	}
	return s.heaps[idx]
}

func (s *Segregated) Alloc(n int) (Block, error) {
	return s.classFor(n).Alloc(n)
}

func (s *Segregated) Free(b Block) {
	s.classFor(len(b.Bytes)).Free(b)
}

var _ Heap = (*Segregated)(nil)
