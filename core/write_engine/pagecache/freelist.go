package pagecache

import "sync/atomic"

// freeList is a lock-free stack of slot indices.
//
// The head packs a 32-bit version tag above the top index+1 (0 means empty).
// Every successful push or pop bumps the tag so a pop that read a stale next
// link cannot succeed after the same index was popped and pushed again.
type freeList struct {
	head atomic.Uint64
	next []atomic.Uint32 // next[i] is index+1 of the slot below i
	size atomic.Int64
}

func newFreeList(capacity int) *freeList {
	return &freeList{next: make([]atomic.Uint32, capacity)}
}

func packHead(tag uint32, top uint32) uint64 { return uint64(tag)<<32 | uint64(top) }

func unpackHead(h uint64) (tag uint32, top uint32) { return uint32(h >> 32), uint32(h) }

func (fl *freeList) push(index int) {
	for {
		h := fl.head.Load()
		tag, top := unpackHead(h)
		fl.next[index].Store(top)
		if fl.head.CompareAndSwap(h, packHead(tag+1, uint32(index)+1)) {
			fl.size.Add(1)
			return
		}
	}
}

// pop removes the top index. ok is false when the list is empty.
func (fl *freeList) pop() (index int, ok bool) {
	for {
		h := fl.head.Load()
		tag, top := unpackHead(h)
		if top == 0 {
			return -1, false
		}
		below := fl.next[top-1].Load()
		if fl.head.CompareAndSwap(h, packHead(tag+1, below)) {
			fl.size.Add(-1)
			return int(top - 1), true
		}
	}
}

// len is exact only while no push or pop is in flight.
func (fl *freeList) len() int64 { return fl.size.Load() }
