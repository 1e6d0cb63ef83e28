// +build linux

package cgroups

import (
	"golang.org/x/sys/unix"
)

// permItem is one (component, interface file, required access bits)
// tuple; prop "" addresses the group dir itself.
type permItem struct {
	comp Component
	prop string
	perm uint32
}

// permList is a group of permItems checked together. An optional list
// failing only clears its capability flag; a mandatory one failing is a
// configuration error.
type permList struct {
	items    []permItem
	optional bool
	presult  *bool
}

// These checks should keep in sync with the checks performed by the
// gpcheckcgroup command.
var permItemsCPU = []permItem{
	{ComponentCPU, "", unix.R_OK | unix.W_OK | unix.X_OK},
	{ComponentCPU, "cgroup.procs", unix.R_OK | unix.W_OK},
	{ComponentCPU, "cpu.cfs_period_us", unix.R_OK | unix.W_OK},
	{ComponentCPU, "cpu.cfs_quota_us", unix.R_OK | unix.W_OK},
	{ComponentCPU, "cpu.shares", unix.R_OK | unix.W_OK},
}

var permItemsCPUAcct = []permItem{
	{ComponentCPUAcct, "", unix.R_OK | unix.W_OK | unix.X_OK},
	{ComponentCPUAcct, "cgroup.procs", unix.R_OK | unix.W_OK},
	{ComponentCPUAcct, "cpuacct.usage", unix.R_OK},
	{ComponentCPUAcct, "cpuacct.stat", unix.R_OK},
}

var permItemsCpuset = []permItem{
	{ComponentCPUSet, "", unix.R_OK | unix.W_OK | unix.X_OK},
	{ComponentCPUSet, "cgroup.procs", unix.R_OK | unix.W_OK},
	{ComponentCPUSet, "cpuset.cpus", unix.R_OK | unix.W_OK},
	{ComponentCPUSet, "cpuset.mems", unix.R_OK | unix.W_OK},
}

var permItemsMemory = []permItem{
	{ComponentMemory, "", unix.R_OK | unix.W_OK | unix.X_OK},
	{ComponentMemory, "memory.limit_in_bytes", unix.R_OK | unix.W_OK},
	{ComponentMemory, "memory.usage_in_bytes", unix.R_OK},
}

var permItemsSwap = []permItem{
	{ComponentMemory, "", unix.R_OK | unix.W_OK | unix.X_OK},
	{ComponentMemory, "memory.memsw.limit_in_bytes", unix.R_OK | unix.W_OK},
	{ComponentMemory, "memory.memsw.usage_in_bytes", unix.R_OK},
}

// initPermLists binds the static item tables to this routine's
// capability flags.
func (r *v1Routine) initPermLists() {
	r.permlists = []permList{
		// swap permissions are optional.
		//
		// cgroup/memory/memory.memsw.* is only available if
		// - CONFIG_MEMCG_SWAP_ENABLED=on in kernel config, or
		// - swapaccount=1 in kernel cmdline.
		//
		// Without these interfaces the swap usage can not be limited
		// or accounted via cgroup.
		{permItemsSwap, true, &r.cfg.EnableSwap},

		// memory and cpuset permissions are mandatory unless the host
		// is configured for the legacy release line.
		{permItemsMemory, r.cfg.MemoryOptional, &r.cfg.EnableMemory},

		// cpu and cpuacct permissions are always mandatory.
		{permItemsCPU, false, nil},
		{permItemsCPUAcct, false, nil},

		{permItemsCpuset, r.cfg.CpusetOptional, &r.cfg.EnableCpuset},
	}

	// same items as the cpuset entry above, used for the standalone
	// cpuset readiness checks
	r.cpusetPermList = &permList{permItemsCpuset, r.cfg.CpusetOptional, &r.cfg.EnableCpuset}
}

// permListCheck checks a list of permissions on group.
//
// - if all the permissions are met it returns true;
// - otherwise it returns a non-nil error when report is true and the
//   list is not optional, or plain false.
func (r *v1Routine) permListCheck(list *permList, group GroupID, report bool) (bool, error) {
	if group == RootGroupID && list.presult != nil {
		*list.presult = false
	}

	for _, item := range list.items {
		path, ok := r.buildPathSafe(group, BaseGpdb, item.comp, item.prop)
		if !ok {
			if report && !list.optional {
				return false, configErrorf("invalid %s name %q", fileOrDir(item.prop), path)
			}
			return false, nil
		}

		if err := unix.Access(path, item.perm); err != nil {
			// no such file or directory / permission denied
			if report && !list.optional {
				return false, &ConfigError{
					Reason: "can't access " + fileOrDir(item.prop) + " " + path,
					Err:    err,
				}
			}
			return false, nil
		}
	}

	if group == RootGroupID && list.presult != nil {
		*list.presult = true
	}

	return true, nil
}

func fileOrDir(prop string) string {
	if prop == "" {
		return "directory"
	}
	return "file"
}

// checkPermission checks the permissions on group's dirs and interface
// files for every list. With report set, an unmet mandatory list is
// returned as a ConfigError; this mode is used once at postmaster start
// with group RootGroupID to stamp the capability flags.
func (r *v1Routine) checkPermission(group GroupID, report bool) (bool, error) {
	for i := range r.permlists {
		list := &r.permlists[i]
		ok, err := r.permListCheck(list, group, report)
		if err != nil {
			return false, err
		}
		if !ok && !list.optional {
			return false, nil
		}
	}

	return true, nil
}

// checkCpusetPermission is checkPermission for the cpuset list alone.
func (r *v1Routine) checkCpusetPermission(group GroupID, report bool) (bool, error) {
	if !r.cfg.EnableCpuset {
		return true, nil
	}

	ok, err := r.permListCheck(r.cpusetPermList, group, report)
	if err != nil {
		return false, err
	}
	if !ok && !r.cpusetPermList.optional {
		return false, nil
	}

	return true, nil
}
