package allocator

import "sort"

// DefaultSizeClasses is the power-of-two size-class set used when a Config
// does not override it. The last element defines the maximum servable size;
// anything larger is the caller's responsibility (see fallback.go).
var DefaultSizeClasses = []uintptr{16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// sizeClassTable resolves a requested size to the smallest size class that
// can hold it.
type sizeClassTable struct {
	classes []uintptr
}

func newSizeClassTable(classes []uintptr) *sizeClassTable {
	sorted := append([]uintptr(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &sizeClassTable{classes: sorted}
}

// indexFor returns the index of the smallest class with class_size >= n, and
// whether such a class exists at all (false means n exceeds maxSize()).
func (t *sizeClassTable) indexFor(n uintptr) (int, bool) {
	classes := t.classes
	idx := sort.Search(len(classes), func(i int) bool { return classes[i] >= n })
	if idx == len(classes) {
		return 0, false
	}
	return idx, true
}

func (t *sizeClassTable) size(index int) uintptr {
	return t.classes[index]
}

func (t *sizeClassTable) count() int {
	return len(t.classes)
}

// maxSize returns the largest class this table serves.
func (t *sizeClassTable) maxSize() uintptr {
	if len(t.classes) == 0 {
		return 0
	}
	return t.classes[len(t.classes)-1]
}
