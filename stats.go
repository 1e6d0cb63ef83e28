// +build linux

package cgroups

import (
	"bufio"
	"os"
)

// CpuStat holds the cpuacct.stat fields of a group, in USER_HZ ticks.
type CpuStat struct {
	User   uint64 `json:"user"`
	System uint64 `json:"system"`
}

// GetCpuStat reads the user/system split of a group's cpu time.
func (r *v1Routine) GetCpuStat(group GroupID) (*CpuStat, error) {
	dir, err := r.buildPath(group, BaseGpdb, ComponentCPUAcct, "")
	if err != nil {
		return nil, err
	}

	f, err := OpenFile(dir, "cpuacct.stat", os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat := &CpuStat{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t, v, err := GetCgroupParamKeyValue(sc.Text())
		if err != nil {
			return nil, err
		}
		switch t {
		case "user":
			stat.User = v
		case "system":
			stat.System = v
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return stat, nil
}
