// +build linux

package cgroups

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func (r *v1Routine) createDir(group GroupID, comp Component) error {
	path, err := r.buildPath(group, BaseGpdb, comp, "")
	if err != nil {
		return err
	}
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// CreateGroup creates the component dirs of a resource group.
func (r *v1Routine) CreateGroup(group GroupID) error {
	comps := []Component{ComponentCPU, ComponentCPUAcct}
	if r.cfg.EnableMemory {
		comps = append(comps, ComponentMemory)
	}
	if r.cfg.EnableCpuset {
		comps = append(comps, ComponentCPUSet)
	}

	for _, comp := range comps {
		if err := r.createDir(group, comp); err != nil {
			return errors.Wrapf(err, "can't create cgroup for resource group '%d'", group)
		}
	}

	// although the group dir is created the interface files may not be
	// created yet, so we check them repeatedly until everything is ready
	ready := waitUntil(func() bool {
		ok, _ := r.checkPermission(group, false)
		return ok
	}, time.Millisecond, maxRetry)

	if !ready {
		// still not ready after maxRetry retries, might be a real
		// error, report it
		if _, err := r.checkPermission(group, true); err != nil {
			return err
		}
	}

	if r.cfg.EnableCpuset {
		// the kernel leaves cpuset.mems and cpuset.cpus of a fresh dir
		// empty, and an empty cpuset rejects all attachments, so seed
		// them from the gpdb sub tree
		if err := r.copyCpusetSettings(RootGroupID, group); err != nil {
			return err
		}
	}

	return nil
}

// copyCpusetSettings copies cpuset.mems and cpuset.cpus from one group
// under the gpdb sub tree to another.
func (r *v1Routine) copyCpusetSettings(from, to GroupID) error {
	for _, prop := range []string{"cpuset.mems", "cpuset.cpus"} {
		value, err := r.readStr(from, BaseGpdb, ComponentCPUSet, prop)
		if err != nil {
			return err
		}
		if err := r.writeStr(to, BaseGpdb, ComponentCPUSet, prop, value); err != nil {
			return err
		}
	}
	return nil
}

// createDefaultCpusetGroup creates the reserved cpuset group that
// receives processes whose resource group has no explicit cpuset
// binding. It only takes effect in the cpuset component.
func (r *v1Routine) createDefaultCpusetGroup() error {
	if err := r.createDir(DefaultCpusetGroupID, ComponentCPUSet); err != nil {
		return errors.Wrapf(err, "can't create cpuset cgroup for resource group '%d'", DefaultCpusetGroupID)
	}

	ready := waitUntil(func() bool {
		ok, _ := r.checkCpusetPermission(DefaultCpusetGroupID, false)
		return ok
	}, time.Millisecond, maxRetry)

	if !ready {
		if _, err := r.checkCpusetPermission(DefaultCpusetGroupID, true); err != nil {
			return err
		}
	}

	return r.copyCpusetSettings(RootGroupID, DefaultCpusetGroupID)
}

// AttachGroup assigns a process to a resource group. A process belongs
// to exactly one group per component; the kernel moves it out of its
// previous group on each write.
//
// The pid is deliberately not written to the memory component, so
// memory accounting stays continuous across group changes.
func (r *v1Routine) AttachGroup(group GroupID, pid int, cpusetEnabled bool) error {
	// needn't touch the kernel if the pid has already been written in,
	// unless this process is the postmaster itself, whose first attach
	// must always hit the fs
	if r.isUnderPostmaster() && r.currentGroupValid && group == r.currentGroupID {
		return nil
	}

	for _, comp := range []Component{ComponentCPU, ComponentCPUAcct} {
		dir, err := r.buildPath(group, BaseGpdb, comp, "")
		if err != nil {
			return err
		}
		if err := WriteCgroupProc(dir, pid); err != nil {
			return err
		}
	}

	if r.cfg.EnableCpuset {
		target := DefaultCpusetGroupID
		if cpusetEnabled {
			target = group
		}
		dir, err := r.buildPath(target, BaseGpdb, ComponentCPUSet, "")
		if err != nil {
			return err
		}
		if err := WriteCgroupProc(dir, pid); err != nil {
			return err
		}
	}

	r.currentGroupID = group
	r.currentGroupValid = true
	return nil
}

// DetachGroup moves every process of a group into the default group.
//
// It must be called with the gpdb toplevel dir of the component locked;
// fdDir is the descriptor holding that lock. On any I/O error fdDir is
// closed (unlocking implicitly) before the error is returned, so the
// lock can not leak. Individual pids failing to migrate are logged and
// skipped, partial migration beats a wedged group.
func (r *v1Routine) DetachGroup(group GroupID, comp Component, fdDir int) error {
	dir, err := r.buildPath(group, BaseGpdb, comp, "")
	if err != nil {
		unlockDir(fdDir)
		return err
	}

	fdr, err := OpenFile(dir, CgroupProcesses, os.O_RDONLY)
	if err != nil {
		unlockDir(fdDir)
		return errors.Wrap(err, "can't open file for read")
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(fdr)
	fdr.Close()
	if err != nil {
		unlockDir(fdDir)
		return errors.Wrap(err, "can't read from file")
	}

	pids, err := parsePids(buf.Bytes(), dir+"/"+CgroupProcesses)
	if err != nil {
		unlockDir(fdDir)
		return err
	}
	if len(pids) == 0 {
		return nil
	}

	defaultDir, err := r.buildPath(DefaultGroupID, BaseGpdb, comp, "")
	if err != nil {
		unlockDir(fdDir)
		return err
	}

	fdw, err := OpenFile(defaultDir, CgroupProcesses, os.O_WRONLY)
	if err != nil {
		unlockDir(fdDir)
		return errors.Wrap(err, "can't open file for write")
	}
	defer fdw.Close()

	// as required by cgroup, only one pid can be migrated in each
	// single write() call
	for _, pid := range pids {
		if _, err := fdw.WriteString(strconv.Itoa(pid)); err != nil {
			logrus.WithError(err).Warnf("failed to migrate pid to gpdb default cgroup: pid=%d", pid)
		}
	}

	return nil
}

func parsePids(buf []byte, file string) ([]int, error) {
	var pids []int
	for _, field := range bytes.Fields(buf) {
		pid, err := strconv.Atoi(string(field))
		if err != nil {
			return nil, &ParseError{File: file, Token: string(field), Err: err}
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// DestroyGroup removes the component dirs of a group. A cgroup dir can
// not be removed while processes run under it; with migrate set they
// are moved to the default group first.
func (r *v1Routine) DestroyGroup(group GroupID, migrate bool) error {
	type target struct {
		comp    Component
		anchor  string
		enabled bool
	}

	// the anchor file's writability proves the dir is still ours;
	// cpuacct and cpuset have no suitable interface file for that
	targets := []target{
		{ComponentCPU, "cpu.shares", true},
		{ComponentCPUAcct, "", true},
		{ComponentCPUSet, "", r.cfg.EnableCpuset},
		{ComponentMemory, "memory.limit_in_bytes", r.cfg.EnableMemory},
	}

	for _, t := range targets {
		if !t.enabled {
			continue
		}
		if err := r.deleteDir(group, t.comp, t.anchor, migrate); err != nil {
			return errors.Wrapf(err, "can't remove cgroup for resource group '%d'", group)
		}
	}

	return nil
}

// deleteDir removes one component dir of a group, holding the gpdb
// toplevel dir locked for the whole operation so concurrent destroys
// and attaches stay ordered.
func (r *v1Routine) deleteDir(group GroupID, comp Component, anchor string, migrate bool) error {
	fdDir, err := r.LockGroup(RootGroupID, comp, true)
	if err != nil {
		return err
	}

	if anchor != "" {
		path, err := r.buildPath(group, BaseGpdb, comp, anchor)
		if err != nil {
			unlockDir(fdDir)
			return err
		}
		if unix.Access(path, unix.W_OK) != nil {
			// the dir is already removed or was never ours
			unlockDir(fdDir)
			return nil
		}
	}

	if migrate {
		// DetachGroup closes fdDir itself on failure
		if err := r.DetachGroup(group, comp, fdDir); err != nil {
			return err
		}
	}

	path, err := r.buildPath(group, BaseGpdb, comp, "")
	if err != nil {
		unlockDir(fdDir)
		return err
	}
	if err := removeDir(path); err != nil {
		unlockDir(fdDir)
		return err
	}

	unlockDir(fdDir)
	return nil
}

// LockGroup takes an advisory exclusive lock on one component dir of
// the group. While the group is locked it won't be removed by other
// processes.
//
// With block unset the call returns -1 instead of waiting for a held
// lock. Pass the returned fd to UnlockGroup.
func (r *v1Routine) LockGroup(group GroupID, comp Component, block bool) (int, error) {
	path, err := r.buildPath(group, BaseGpdb, comp, "")
	if err != nil {
		return -1, err
	}
	return lockDir(path, block)
}

// UnlockGroup releases a lock taken by LockGroup.
func (r *v1Routine) UnlockGroup(fd int) {
	unlockDir(fd)
}

func (r *v1Routine) isUnderPostmaster() bool {
	return os.Getpid() != r.postmasterPid
}
