// Package util contains internal helpers (hashing, shard sizing, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import "runtime"

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// Fnv64a hashes a string key with 64-bit FNV-1a. Cache keys are always
// strings of the form store+"/"+key, so the string-only path is enough.
func Fnv64a(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// NextPow2 returns the smallest power of two >= x (classic bit fill).
// x == 0 yields 1; results that would overflow clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ReasonableShardCount picks a practical default shard count based on CPU
// parallelism: nextPow2(2*GOMAXPROCS) clamped to [1..256]. This sharply
// reduces lock contention without bloating memory overhead.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a 64-bit hash to a shard index. Shard counts are always
// powers of two here, so the mask path applies.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(hash & uint64(shards-1))
}
