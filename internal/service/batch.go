package service

import (
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	memoryUnit   = 256 << 20
	minBatchSize = 2
)

// SizingPolicy returns the number of texts per inference batch.
type SizingPolicy func() int

// MemoryBatchSize is 3 texts per 256 MiB of memory plus 2.
func MemoryBatchSize(memoryBytes uint64) int {
	size := 3*int(memoryBytes/memoryUnit) + 2
	if size < minBatchSize {
		return minBatchSize
	}
	return size
}

// HostMemoryPolicy sizes batches from the memory currently available on the
// host. It falls back to total memory, then to the minimum batch size.
func HostMemoryPolicy() SizingPolicy {
	return func() int {
		vm, err := mem.VirtualMemory()
		if err != nil || vm == nil {
			return minBatchSize
		}
		avail := vm.Available
		if avail == 0 {
			avail = vm.Total
		}
		return MemoryBatchSize(avail)
	}
}

// FixedBatchSize always returns n, or the minimum when n is too small.
func FixedBatchSize(n int) SizingPolicy {
	return func() int {
		if n < 1 {
			return minBatchSize
		}
		return n
	}
}

// ChunkDocuments splits docs into contiguous batches of at most size texts.
func ChunkDocuments(docs []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := start + size
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[start:end])
	}
	return batches
}
