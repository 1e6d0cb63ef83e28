// +build linux

package cgroups

import "math"

// Config carries the resource group tunables handed down by the
// database, plus the capability flags stamped by the permission scan.
//
// The capability flags (EnableMemory, EnableSwap, EnableCpuset) are
// written by the root permission scan that Probe and Check run in the
// postmaster before any worker forks; afterwards they are read only.
type Config struct {
	// CpuLimit is the fraction (0, 1] of the parent CFS quota claimed
	// by the gpdb sub tree.
	CpuLimit float64 `json:"cpu_limit"`

	// CpuPriority multiplies the cpu.shares value inherited from the
	// parent dir.
	CpuPriority int64 `json:"cpu_priority"`

	// CpuCeilingEnforcement makes SetCpuLimit also set a hard
	// cfs_quota_us per group; without it groups only get soft shares.
	CpuCeilingEnforcement bool `json:"cpu_ceiling_enforcement"`

	// Capability flags, written by the permission scan.
	EnableMemory bool `json:"enable_cgroup_memory"`
	EnableSwap   bool `json:"enable_cgroup_swap"`
	EnableCpuset bool `json:"enable_cgroup_cpuset"`

	// MemoryOptional and CpusetOptional keep backward compatibility
	// with hosts configured for the legacy release line, where the
	// memory and cpuset controllers were not required.
	MemoryOptional bool `json:"memory_optional"`
	CpusetOptional bool `json:"cpuset_optional"`

	// VmemLimitChunks is the per segment vmem budget in chunks.
	VmemLimitChunks int32 `json:"vmem_limit_chunks"`

	// HostPrimaryCount is the number of primary segments on this host.
	HostPrimaryCount int32 `json:"host_primary_count"`

	// ChunkSizeBits is the chunk size as a power of two byte count.
	ChunkSizeBits uint `json:"chunk_size_bits"`

	// SegworkerRelativePriority is the nice value applied to segment
	// workers; AdjustTunables forces it to 0.
	SegworkerRelativePriority int `json:"segworker_relative_priority"`
}

// DefaultConfig returns the tunables at their shipped defaults.
func DefaultConfig() *Config {
	return &Config{
		CpuLimit:                  0.9,
		CpuPriority:               10,
		VmemLimitChunks:           1024,
		HostPrimaryCount:          1,
		ChunkSizeBits:             20, // 1 MiB chunks
		SegworkerRelativePriority: 20,
	}
}

func (c *Config) chunksToBytes(chunks int32) int64 {
	return int64(chunks) << c.ChunkSizeBits
}

func (c *Config) bytesToChunks(bytes int64) int32 {
	if bytes < 0 {
		return 0
	}
	chunks := bytes >> c.ChunkSizeBits
	if chunks > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(chunks)
}
