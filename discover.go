// +build linux

package cgroups

import (
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// getCgroupMountDir locates the common parent of the mounted v1
// controller hierarchies, e.g. /sys/fs/cgroup.
func getCgroupMountDir() (string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup"))
	if err != nil {
		return "", err
	}
	if len(mounts) == 0 {
		return "", errors.New("no cgroup filesystem mounted")
	}

	// Every controller is mounted one level below the common root,
	// e.g. /sys/fs/cgroup/cpu,cpuacct.
	return filepath.Dir(mounts[0].Mountpoint), nil
}

// detectComponentDirs detects the gpdb component dirs.
//
// By default the gpdb dir of a component is expected directly under its
// mount point, e.g. cgroup/cpu/gpdb. But the init process (pid 1) may
// live in a sub hierarchy, e.g. cgroup/cpu/custom, in which case
// cgroup/cpu/custom/gpdb is preferred when it exists with good
// permissions.
//
// If any component can not be found under the init process dirs, is
// detected more than once, or has bad permissions, ALL components fall
// back to the default dirs; a partial fallback is never done.
func (r *v1Routine) detectComponentDirs() {
	entries, err := parseProcCgroupFile(procCgroupPath)
	if err != nil {
		r.fallbackComponentDirs()
		return
	}

	var detected [componentCount]bool

	for _, e := range entries {
		path := e.Path
		if path == "/" {
			path = ""
		}

		for _, name := range e.Controllers {
			comp := GetComponentType(name)
			if comp == ComponentUnknown {
				continue // not used by us
			}

			if detected[comp] {
				r.fallbackComponentDirs()
				return
			}
			detected[comp] = true

			r.componentDirs[comp] = path
			if !r.validateComponentDir(comp) {
				r.fallbackComponentDirs()
				return
			}
		}
	}

	for _, ok := range detected {
		if !ok {
			r.fallbackComponentDirs()
			return
		}
	}

	// Do not dump the detected dirs here: detection runs during probe
	// where failures must stay silent, dumpComponentDirs is called from
	// the strict check instead.
}

// validateComponentDir probes the gpdb dir of a component for existence
// and basic permissions.
func (r *v1Routine) validateComponentDir(comp Component) bool {
	path, ok := r.buildPathSafe(RootGroupID, BaseGpdb, comp, "")
	if !ok {
		return false
	}
	return unix.Access(path, unix.R_OK|unix.X_OK) == nil
}

func (r *v1Routine) fallbackComponentDirs() {
	foreachComponent(func(comp Component) {
		r.componentDirs[comp] = fallbackComponentDir
	})
}

// dumpComponentDirs logs the gpdb dir of every component.
func (r *v1Routine) dumpComponentDirs() {
	foreachComponent(func(comp Component) {
		path, ok := r.buildPathSafe(RootGroupID, BaseGpdb, comp, "")
		if !ok {
			return
		}
		logrus.Infof("gpdb dir for cgroup component %q: %s", comp.Name(), path)
	})
}

// checkComponentHierarchy verifies that cpu and cpuset are not mounted
// on the same hierarchy. Attaching a pid to the default cpuset group
// would otherwise move it out of its cpu group, silently dropping the
// cpu enforcement.
func (r *v1Routine) checkComponentHierarchy() error {
	entries, err := parseProcCgroupFile(procCgroupPath)
	if err != nil {
		return &ConfigError{Reason: "can't check component mount hierarchy", Err: err}
	}

	for _, e := range entries {
		seen := ComponentUnknown
		for _, name := range e.Controllers {
			comp := GetComponentType(name)
			if comp != ComponentCPU && comp != ComponentCPUSet {
				continue
			}
			if seen == ComponentUnknown {
				seen = comp
				continue
			}
			return configErrorf("can't mount 'cpu' and 'cpuset' on the same hierarchy")
		}
	}

	return nil
}
