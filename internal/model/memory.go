package model

import "sync/atomic"

// DefaultMaxBufferBytes caps the KV cache and scratch buffers of one model
// when the machine's memory cannot be read.
const DefaultMaxBufferBytes int64 = 8 << 30

var maxBufferBytes atomic.Int64

func init() { maxBufferBytes.Store(DefaultMaxBufferBytes) }

// SetMaxBufferBytes changes the per-model buffer cap and returns the
// previous one. Values <= 0 restore the default.
func SetMaxBufferBytes(n int64) int64 {
	if n <= 0 {
		n = DefaultMaxBufferBytes
	}
	return maxBufferBytes.Swap(n)
}

// cacheBudget is the configured cap, lowered to half of physical memory
// when that is known.
func cacheBudget() int64 {
	budget := maxBufferBytes.Load()
	if ram := totalMemory(); ram > 0 && ram/2 < uint64(budget) {
		budget = int64(ram / 2)
	}
	return budget
}
