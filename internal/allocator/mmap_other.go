//go:build !linux

package allocator

// hugeTLBFlag is 0 on platforms without Linux's MAP_HUGETLB; huge-page
// requests silently degrade to ordinary anonymous mappings there.
const hugeTLBFlag = 0

// mapFixedNoReplaceFlag is 0 on platforms without MAP_FIXED_NOREPLACE;
// mmapFixed itself is stubbed out there (see mmap_fixed_other.go).
const mapFixedNoReplaceFlag = 0
