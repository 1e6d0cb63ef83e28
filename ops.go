// +build linux

// Package cgroups mediates between the resource group machinery of the
// database and the cgroup v1 controllers of the Linux kernel, enforcing
// per group cpu, cpuset and memory limits on worker processes.
//
// Resource groups rely on an OS dependent backend to manage resources,
// cgroup on Linux. The database binds exactly one OpsRoutine per
// process lifetime and drives it with opaque group ids issued by its
// catalog.
package cgroups

import (
	"os"
)

// OpsRoutine is the operation set a cgroup backend exposes to the
// database. A second implementation backed by the v2 unified hierarchy
// can be swapped in without callers knowing which one they hold.
type OpsRoutine interface {
	// Name returns the name of the OS group implementation.
	Name() string

	// Probe is the best effort usability check, it never fails loudly.
	Probe() bool

	// Check verifies that the backend is available and usable, and
	// loads the system calibration; unmet requirements are fatal.
	Check() error

	// Init creates the gpdb sub tree and the system group; it must run
	// in the postmaster before any worker forks.
	Init() error

	// AdjustTunables forces tunable values this backend depends on.
	AdjustTunables()

	CreateGroup(group GroupID) error
	DestroyGroup(group GroupID, migrate bool) error

	AttachGroup(group GroupID, pid int, cpusetEnabled bool) error
	DetachGroup(group GroupID, comp Component, fdDir int) error

	LockGroup(group GroupID, comp Component, block bool) (int, error)
	UnlockGroup(fd int)

	SetCpuLimit(group GroupID, rate int) error
	GetCpuUsage(group GroupID) (int64, error)
	GetCpuStat(group GroupID) (*CpuStat, error)
	GetCpuSet(group GroupID) (string, error)
	SetCpuSet(group GroupID, cpuset string) error
	ConvertCpuUsage(usage, duration int64) float64

	GetTotalMemory() (int64, error)
	GetMemoryUsage(group GroupID) (int32, error)
	SetMemoryLimit(group GroupID, rate int) error
	GetMemoryLimitChunks(group GroupID) (int32, error)
	SetMemoryLimitByChunks(group GroupID, chunks int32) error
}

// v1Routine is the cgroup v1 backend. All process wide state lives in
// the routine value: the component dir table, the capability flags in
// cfg, and the CFS calibration are written during Probe/Check in the
// postmaster and are read only afterwards, so workers need no
// synchronization to use them.
type v1Routine struct {
	cfg *Config

	// componentDirs maps a component to its detected sub path below
	// <mount>/<component>; "" means the mount point itself.
	componentDirs [componentCount]string

	sysInfo SystemInfo

	// systemCfsQuotaUs is period * ncores; parentCfsQuotaUs is the
	// parent dir's quota, -1 when unlimited.
	systemCfsQuotaUs int64
	parentCfsQuotaUs int64

	permlists      []permList
	cpusetPermList *permList

	postmasterPid int

	// currentGroupID caches the last group this process attached
	// itself to, to suppress redundant cgroup.procs writes. It only
	// ever reflects the local process.
	currentGroupID    GroupID
	currentGroupValid bool
}

// NewV1Routine returns the cgroup v1 backend. Call it once in the
// postmaster, then Probe/Check/Init in that order.
func NewV1Routine(cfg *Config) OpsRoutine {
	r := &v1Routine{
		cfg:              cfg,
		systemCfsQuotaUs: -1,
		parentCfsQuotaUs: -1,
		postmasterPid:    os.Getpid(),
	}
	r.initPermLists()
	return r
}

// Name returns the name of the OS group implementation.
func (r *v1Routine) Name() string {
	return "cgroup"
}

// Probe probes the configuration of the backend. Errors are swallowed
// here deliberately, they will be reported by Check later.
func (r *v1Routine) Probe() bool {
	dir, err := getCgroupMountDir()
	if err != nil {
		return false
	}
	r.sysInfo.CgroupDir = dir

	r.detectComponentDirs()

	ok, _ := r.checkPermission(RootGroupID, false)
	return ok
}

// Check verifies the backend is usable, failing on unmet requirements,
// and loads the system calibration values.
func (r *v1Routine) Check() error {
	// Probe already looked for the mount point and was allowed to fail;
	// from here on not knowing it is a critical error.
	if r.sysInfo.CgroupDir == "" {
		return configErrorf("can not find cgroup mount point")
	}

	// check again, this time fail on unmet requirements
	if _, err := r.checkPermission(RootGroupID, true); err != nil {
		return err
	}

	// Refuse cpu and cpuset sharing a hierarchy: writing a pid to the
	// default cpuset group would remove it from the gpdb cpu group and
	// cpu usage would go uncontrolled.
	if !r.cfg.CpusetOptional {
		if err := r.checkComponentHierarchy(); err != nil {
			return err
		}
	}

	r.dumpComponentDirs()

	r.sysInfo.NCores = getCPUCores()

	cfsPeriodUs, err := r.getCfsPeriodUs(ComponentCPU)
	if err != nil {
		return err
	}
	r.systemCfsQuotaUs = cfsPeriodUs * int64(r.sysInfo.NCores)

	// cpu rate limit of the parent cgroup
	r.parentCfsQuotaUs, err = r.readInt64(RootGroupID, BaseParent, ComponentCPU, "cpu.cfs_quota_us")
	if err != nil {
		return err
	}

	return nil
}

// Init initializes the gpdb sub tree, then creates the system group
// that holds the postmaster and the auxiliary processes. The
// postmaster is attached before any child forks so the whole process
// tree inherits the membership.
func (r *v1Routine) Init() error {
	if err := r.initCpu(); err != nil {
		return err
	}
	if err := r.initCpuset(); err != nil {
		return err
	}

	if err := r.CreateGroup(SystemGroupID); err != nil {
		return err
	}
	return r.AttachGroup(SystemGroupID, r.postmasterPid, false)
}

// AdjustTunables forces tunable values this backend depends on. cgroup
// cpu limitation works best when all processes have equal priorities,
// so segment workers are pinned to nice=0. Call it before tunables are
// dispatched to segments.
func (r *v1Routine) AdjustTunables() {
	r.cfg.SegworkerRelativePriority = 0
}
