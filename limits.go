// +build linux

package cgroups

import (
	"math"

	"github.com/sirupsen/logrus"
)

// initCpu computes and applies the cpu bandwidth of the gpdb sub tree.
func (r *v1Routine) initCpu() error {
	var cfsQuotaUs int64

	if r.parentCfsQuotaUs <= 0 {
		// parent cgroup is unlimited, calculate gpdb's limitation
		// based on the system configuration:
		//
		//   cfs_quota_us := parent.cfs_period_us * ncores * CpuLimit
		cfsQuotaUs = int64(float64(r.systemCfsQuotaUs) * r.cfg.CpuLimit)
	} else {
		// parent cgroup is also limited, then calculate gpdb's
		// limitation based on it:
		//
		//   cfs_quota_us := parent.cfs_quota_us * CpuLimit
		cfsQuotaUs = int64(float64(r.parentCfsQuotaUs) * r.cfg.CpuLimit)
	}

	if err := r.writeInt64(RootGroupID, BaseGpdb, ComponentCPU, "cpu.cfs_quota_us", cfsQuotaUs); err != nil {
		return err
	}

	// shares := parent.shares * CpuPriority
	//
	// We used to set a large shares (like 1024 * 50, the maximum
	// possible value), it has very bad effect on overall system
	// performance, especially on 1-core or 2-core low-end systems.
	shares, err := r.readInt64(RootGroupID, BaseParent, ComponentCPU, "cpu.shares")
	if err != nil {
		return err
	}

	return r.writeInt64(RootGroupID, BaseGpdb, ComponentCPU, "cpu.shares", shares*r.cfg.CpuPriority)
}

// initCpuset seeds the gpdb sub tree's cpuset from the parent dir and
// creates the default cpuset group.
func (r *v1Routine) initCpuset() error {
	if !r.cfg.EnableCpuset {
		return nil
	}

	// a fresh sub dir holds empty cpuset.mems and cpuset.cpus, make the
	// gpdb dir match its parent before any group is created under it
	for _, prop := range []string{"cpuset.mems", "cpuset.cpus"} {
		value, err := r.readStr(RootGroupID, BaseParent, ComponentCPUSet, prop)
		if err != nil {
			return err
		}
		if err := r.writeStr(RootGroupID, BaseGpdb, ComponentCPUSet, prop, value); err != nil {
			return err
		}
	}

	return r.createDefaultCpusetGroup()
}

// SetCpuLimit sets the cpu rate limit of a group, rate is within
// [0, 100].
func (r *v1Routine) SetCpuLimit(group GroupID, rate int) error {
	// group.shares := gpdb.shares * rate / 100
	shares, err := r.readInt64(RootGroupID, BaseGpdb, ComponentCPU, "cpu.shares")
	if err != nil {
		return err
	}
	if err := r.writeInt64(group, BaseGpdb, ComponentCPU, "cpu.shares", shares*int64(rate)/100); err != nil {
		return err
	}

	if r.cfg.CpuCeilingEnforcement {
		period, err := r.getCfsPeriodUs(ComponentCPU)
		if err != nil {
			return err
		}
		quota := period * int64(r.sysInfo.NCores) * int64(rate) / 100
		return r.writeInt64(group, BaseGpdb, ComponentCPU, "cpu.cfs_quota_us", quota)
	}

	return r.writeInt64(group, BaseGpdb, ComponentCPU, "cpu.cfs_quota_us", -1)
}

// memswWriteOrder returns the interface files to update for a limit
// change, ordered so that memory.limit_in_bytes never exceeds
// memory.memsw.limit_in_bytes at any intermediate state. An unchanged
// limit yields no writes.
func memswWriteOrder(newLimit, oldLimit int64) []string {
	switch {
	case newLimit > oldLimit:
		return []string{"memory.memsw.limit_in_bytes", "memory.limit_in_bytes"}
	case newLimit < oldLimit:
		return []string{"memory.limit_in_bytes", "memory.memsw.limit_in_bytes"}
	default:
		return nil
	}
}

// SetMemoryLimitByChunks sets the memory limit of a group by value, in
// chunks. With swap accounting available both memory.limit_in_bytes
// and memory.memsw.limit_in_bytes are set to the same value.
func (r *v1Routine) SetMemoryLimitByChunks(group GroupID, chunks int32) error {
	if !r.cfg.EnableMemory {
		return nil
	}

	limit := r.cfg.chunksToBytes(chunks)

	if !r.cfg.EnableSwap {
		return r.writeInt64(group, BaseGpdb, ComponentMemory, "memory.limit_in_bytes", limit)
	}

	oldLimit, err := r.readInt64(group, BaseGpdb, ComponentMemory, "memory.limit_in_bytes")
	if err != nil {
		return err
	}

	for _, prop := range memswWriteOrder(limit, oldLimit) {
		if err := r.writeInt64(group, BaseGpdb, ComponentMemory, prop, limit); err != nil {
			return err
		}
	}

	return nil
}

// SetMemoryLimit sets the memory limit of a group by rate within
// [0, 100]. The group's memory dir is locked while the new limit is
// applied.
func (r *v1Routine) SetMemoryLimit(group GroupID, rate int) error {
	chunks := r.cfg.VmemLimitChunks * int32(rate) / 100
	chunks *= r.cfg.HostPrimaryCount

	fd, err := r.LockGroup(group, ComponentMemory, true)
	if err != nil {
		return err
	}
	err = r.SetMemoryLimitByChunks(group, chunks)
	r.UnlockGroup(fd)
	return err
}

// GetCpuUsage returns the total cpu time obtained by a group, in
// nanoseconds.
func (r *v1Routine) GetCpuUsage(group GroupID) (int64, error) {
	return r.readInt64(group, BaseGpdb, ComponentCPUAcct, "cpuacct.usage")
}

// getCgroupMemoryInfo returns the ram and mem+swap limits of the parent
// dir, in bytes.
func (r *v1Routine) getCgroupMemoryInfo() (cgram, cgmemsw uint64, err error) {
	v, err := r.readInt64(RootGroupID, BaseParent, ComponentMemory, "memory.limit_in_bytes")
	if err != nil {
		return 0, 0, err
	}
	cgram = uint64(v)

	if r.cfg.EnableSwap {
		v, err = r.readInt64(RootGroupID, BaseParent, ComponentMemory, "memory.memsw.limit_in_bytes")
		if err != nil {
			return 0, 0, err
		}
		cgmemsw = uint64(v)
	} else {
		logrus.Debug("swap memory is unlimited")
		cgmemsw = math.MaxUint64
	}

	return cgram, cgmemsw, nil
}

// totalMemoryMiB computes the usable total memory given the host totals
// from sysinfo, the overcommit ratio and the container limits.
func totalMemoryMiB(ram, swap uint64, overcommitRatio int, cgram, cgmemsw uint64) int64 {
	memsw := ram + swap
	outTotal := swap + ram*uint64(overcommitRatio)/100

	if cgram < ram {
		ram = cgram
	}
	// When the host total exceeds the cgroup mem+swap limit both ram
	// and swap are limited; otherwise swap is not and the sysinfo value
	// holds.
	if cgmemsw < memsw {
		swap = cgmemsw - ram
	}

	total := swap + ram
	if outTotal < total {
		total = outTotal
	}
	return int64(total >> 20)
}

// GetTotalMemory returns the total memory available to the gpdb sub
// tree in MiB, accounting for vm overcommit and container limits.
func (r *v1Routine) GetTotalMemory() (int64, error) {
	ratio, err := getOvercommitRatio()
	if err != nil {
		return 0, err
	}
	ram, swap, err := getMemoryInfo()
	if err != nil {
		return 0, err
	}
	cgram, cgmemsw, err := r.getCgroupMemoryInfo()
	if err != nil {
		return 0, err
	}
	return totalMemoryMiB(ram, swap, ratio, cgram, cgmemsw), nil
}

// GetMemoryUsage returns the memory usage of a group, in chunks.
func (r *v1Routine) GetMemoryUsage(group GroupID) (int32, error) {
	// report 0 if cgroup memory is not enabled
	if !r.cfg.EnableMemory {
		return 0, nil
	}

	prop := "memory.usage_in_bytes"
	if r.cfg.EnableSwap {
		prop = "memory.memsw.usage_in_bytes"
	}

	usage, err := r.readInt64(group, BaseGpdb, ComponentMemory, prop)
	if err != nil {
		return 0, err
	}
	return r.cfg.bytesToChunks(usage), nil
}

// GetMemoryLimitChunks returns the memory limit of a group, in chunks.
func (r *v1Routine) GetMemoryLimitChunks(group GroupID) (int32, error) {
	// report unlimited if cgroup memory is not enabled
	if !r.cfg.EnableMemory {
		return math.MaxInt32, nil
	}

	limit, err := r.readInt64(group, BaseGpdb, ComponentMemory, "memory.limit_in_bytes")
	if err != nil {
		return 0, err
	}
	return r.cfg.bytesToChunks(limit), nil
}

// GetCpuSet returns the cpuset.cpus value of a group. The value is a
// comma separated list of core numbers and closed ranges, e.g. 0,1,2-3.
func (r *v1Routine) GetCpuSet(group GroupID) (string, error) {
	if !r.cfg.EnableCpuset {
		return "", nil
	}
	return r.readStr(group, BaseGpdb, ComponentCPUSet, "cpuset.cpus")
}

// SetCpuSet sets the cpuset.cpus value of a group; syntax validation is
// left to the kernel.
func (r *v1Routine) SetCpuSet(group GroupID, cpuset string) error {
	if !r.cfg.EnableCpuset {
		return nil
	}
	return r.writeStr(group, BaseGpdb, ComponentCPUSet, "cpuset.cpus", cpuset)
}

// ConvertCpuUsage converts a cpu usage delta to a percentage within the
// duration. usage is a delta of GetCpuUsage in nanoseconds, duration is
// in microseconds. Fully consuming one core yields 100.0 / ncores.
func (r *v1Routine) ConvertCpuUsage(usage, duration int64) float64 {
	// usage is the cpu time (nano seconds) obtained by this group in
	// the time duration (micro seconds):
	//
	//     usage / 1000 / duration / ncores * 100%
	//   = usage / 10 / duration / ncores
	percent := float64(usage) / 10.0 / float64(duration) / float64(r.sysInfo.NCores)

	// When running in a container with limited cpu quota the system
	// level percentage is rescaled to the parent, so that a group
	// saturating the parent's quota reports 100.
	if r.parentCfsQuotaUs > 0 {
		percent = percent * float64(r.systemCfsQuotaUs) / float64(r.parentCfsQuotaUs)
	}

	return percent
}
