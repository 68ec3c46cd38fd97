package allocator

import (
	"runtime"
	"sync/atomic"
)

// queuePage is a page of node slots backing an mpmcQueue, chained to its
// neighbors so the queue can grow and shrink without ever calling back into
// the allocator it supports. The header fields (prev/next/raw) live in an
// ordinary Go-heap struct — allocating that small struct goes through the
// Go runtime's own allocator, never FFMA's, so there is no recursion risk;
// only the node-slot storage itself is a raw OS mapping.
type queuePage struct {
	raw   []byte
	slots []uintptr

	prev *queuePage // set once at construction; read-only thereafter
	next atomic.Pointer[queuePage]
}

func newQueuePage(prev *queuePage) (*queuePage, error) {
	pageSize := pageSizeBytes()
	raw, err := mmapAnon(pageSize)
	if err != nil {
		return nil, err
	}
	n := pageSize / int(uintptrSize)
	p := &queuePage{raw: raw, prev: prev}
	p.slots = bytesToUintptrSlice(raw, n)
	return p, nil
}

func (p *queuePage) capacity() int {
	return len(p.slots)
}

func (p *queuePage) unmap() {
	_ = munmapBytes(p.raw)
}

// headSnapshot is the Go adaptation of the original's packed 128-bit head
// word: {nodes_page, node_index, length, version}. Go has no double-word
// CAS, so the head is an atomic.Pointer to an immutable snapshot; every
// mutation builds a fresh snapshot and CASes the pointer, which is itself a
// single-word atomic operation. version is retained even though pointer
// identity already prevents the classic ABA swap, to keep the documented
// ABA-defense field present at the semantic level.
type headSnapshot struct {
	page    *queuePage
	index   int32 // node_index; -1 means "page has no claimed slots"
	length  uint32
	version uint32
}

// mpmcQueue is an unbounded, LIFO, multi-producer/multi-consumer queue of
// non-zero pointer-sized values, used for the cross-thread slot return
// protocol (C4) and the per-NUMA-node region free list (C1).
type mpmcQueue struct {
	head atomic.Pointer[headSnapshot]
}

func newMPMCQueue() (*mpmcQueue, error) {
	page, err := newQueuePage(nil)
	if err != nil {
		return nil, err
	}
	q := &mpmcQueue{}
	q.head.Store(&headSnapshot{page: page, index: -1, length: 0, version: 0})
	return q, nil
}

// push enqueues v, which must be non-zero (zero is the queue's internal
// empty-slot sentinel). Only a node-page mmap failure can make push fail;
// per §4.1/§7 that failure is fatal to the caller, not recoverable here.
func (q *mpmcQueue) push(v uintptr) error {
	if v == 0 {
		panic("allocator: mpmc queue push of zero sentinel value")
	}

	var spareNewPage *queuePage

	for {
		old := q.head.Load()
		next := *old

		if next.index == int32(next.page.capacity())-1 {
			if np := next.page.next.Load(); np != nil {
				next.page = np
			} else {
				if spareNewPage == nil {
					page, err := newQueuePage(old.page)
					if err != nil {
						return err
					}
					spareNewPage = page
				}
				next.page = spareNewPage
			}
			next.index = -1
		}

		next.index++
		next.length++
		next.version++

		snap := next
		if q.head.CompareAndSwap(old, &snap) {
			targetPage := snap.page
			targetIdx := snap.index

			if spareNewPage != nil && targetPage == spareNewPage {
				spareNewPage.prev.next.Store(spareNewPage)
			} else if spareNewPage != nil {
				// Another pusher's page won the race; this one goes unused.
				spareNewPage.unmap()
			}

			for !atomic.CompareAndSwapUintptr(&targetPage.slots[targetIdx], 0, v) {
				runtime.Gosched()
			}
			return nil
		}
	}
}

// pop removes and returns the most recently pushed value, or 0 if the
// queue was observed empty.
func (q *mpmcQueue) pop() uintptr {
	for {
		old := q.head.Load()
		if old.length == 0 {
			return 0
		}

		next := *old
		readPage := next.page
		readIdx := next.index
		next.index--

		if next.index == -1 {
			if readPage.prev != nil {
				next.page = readPage.prev
				next.index = int32(next.page.capacity() - 1)
				for next.page.next.Load() == nil {
					runtime.Gosched()
				}
			}
		}
		next.length--
		next.version++

		snap := next
		if q.head.CompareAndSwap(old, &snap) {
			for {
				v := atomic.LoadUintptr(&readPage.slots[readIdx])
				if v != 0 && atomic.CompareAndSwapUintptr(&readPage.slots[readIdx], v, 0) {
					return v
				}
				runtime.Gosched()
			}
		}
	}
}

// length returns the queue's approximate length under contention, exact
// between updates.
func (q *mpmcQueue) length() uint32 {
	return q.head.Load().length
}

func (q *mpmcQueue) isEmpty() bool {
	return q.length() == 0
}

// free unmaps every node page. The caller must guarantee no concurrent
// push/pop is in flight.
func (q *mpmcQueue) free() {
	head := q.head.Load()
	if head == nil || head.page == nil {
		return
	}

	for p := head.page.next.Load(); p != nil; {
		next := p.next.Load()
		p.unmap()
		p = next
	}
	for p := head.page; p != nil; {
		prev := p.prev
		p.unmap()
		p = prev
	}
}
