// +build linux

package cgroups

import (
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SystemInfo is populated once during probe/check and read only
// afterwards.
type SystemInfo struct {
	// NCores is the number of host cpu cores.
	NCores int

	// CgroupDir is the discovered cgroup mount dir, e.g. /sys/fs/cgroup.
	CgroupDir string
}

// procOvercommitRatio is a var so tests can point it at a fixture.
var procOvercommitRatio = "/proc/sys/vm/overcommit_ratio"

const maxIntStringLen = 20

func getCPUCores() int {
	return runtime.NumCPU()
}

// getMemoryInfo returns the total ram and total swap of the host in
// bytes, from sysinfo(2).
func getMemoryInfo() (ram, swap uint64, err error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, &ConfigError{Reason: "can't get memory information", Err: err}
	}
	unit := uint64(info.Unit)
	return uint64(info.Totalram) * unit, uint64(info.Totalswap) * unit, nil
}

func getOvercommitRatio() (int, error) {
	data, err := readData(procOvercommitRatio, maxIntStringLen)
	if err != nil {
		return 0, err
	}

	data = strings.TrimSpace(data)
	ratio, err := strconv.Atoi(data)
	if err != nil {
		return 0, &ParseError{File: procOvercommitRatio, Token: data, Err: err}
	}
	return ratio, nil
}

// getCfsPeriodUs reads the scheduling period of the gpdb sub tree.
//
// Ideally the system quota is calculated from the parent dir, however
// parent.cfs_period_us was seen to be 0 and not writable on some old
// kernels. Sub dirs inherit the parent properties, so the gpdb value is
// read instead, and rewritten with the default when it is still 0.
// It is unclear whether current kernels can still report 0 here, the
// corrective write is kept regardless.
func (r *v1Routine) getCfsPeriodUs(comp Component) (int64, error) {
	cfsPeriodUs, err := r.readInt64(RootGroupID, BaseGpdb, comp, "cpu.cfs_period_us")
	if err != nil {
		return 0, err
	}

	if cfsPeriodUs == 0 {
		if err := r.writeInt64(RootGroupID, BaseGpdb, comp, "cpu.cfs_period_us", defaultCPUPeriodUs); err != nil {
			return 0, err
		}

		// read again to verify the effect
		cfsPeriodUs, err = r.readInt64(RootGroupID, BaseGpdb, comp, "cpu.cfs_period_us")
		if err != nil {
			return 0, err
		}
		if cfsPeriodUs <= 0 {
			return 0, configErrorf("invalid cpu.cfs_period_us value: %d", cfsPeriodUs)
		}
	}

	return cfsPeriodUs, nil
}
