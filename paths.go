// +build linux

package cgroups

import (
	"strconv"
	"strings"
)

// buildPath constructs the absolute path of a group dir or one of its
// interface files:
//
//	<mount>/<component>[/<detected subpath>][/gpdb][/<group>][/<prop>]
//
// group RootGroupID addresses the base dir itself and appends no numeric
// component. The result is rejected when it would not fit the kernel
// side path limit.
func (r *v1Routine) buildPath(group GroupID, base BaseDir, comp Component, prop string) (string, error) {
	var b strings.Builder

	b.WriteString(r.sysInfo.CgroupDir)
	b.WriteByte('/')
	b.WriteString(comp.Name())
	b.WriteString(r.componentDirs[comp])
	if base == BaseGpdb {
		b.WriteString(basedirGpdb)
	}
	if group != RootGroupID {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(group), 10))
	}
	if prop != "" {
		b.WriteByte('/')
		b.WriteString(prop)
	}

	path := b.String()
	if len(path) >= maxPathLen {
		return "", configErrorf("path too long: %s", path)
	}
	return path, nil
}

// buildPathSafe is the non-raising variant of buildPath.
func (r *v1Routine) buildPathSafe(group GroupID, base BaseDir, comp Component, prop string) (string, bool) {
	path, err := r.buildPath(group, base, comp, prop)
	return path, err == nil
}

func (r *v1Routine) readInt64(group GroupID, base BaseDir, comp Component, prop string) (int64, error) {
	dir, err := r.buildPath(group, base, comp, "")
	if err != nil {
		return 0, err
	}
	return GetCgroupParamInt(dir, prop)
}

func (r *v1Routine) writeInt64(group GroupID, base BaseDir, comp Component, prop string, value int64) error {
	dir, err := r.buildPath(group, base, comp, "")
	if err != nil {
		return err
	}
	return WriteFile(dir, prop, strconv.FormatInt(value, 10))
}

func (r *v1Routine) readStr(group GroupID, base BaseDir, comp Component, prop string) (string, error) {
	dir, err := r.buildPath(group, base, comp, "")
	if err != nil {
		return "", err
	}
	value, err := GetCgroupParamString(dir, prop)
	if err != nil {
		return "", err
	}
	if len(value) > MaxCpuSetLength {
		value = value[:MaxCpuSetLength]
	}
	return value, nil
}

func (r *v1Routine) writeStr(group GroupID, base BaseDir, comp Component, prop, value string) error {
	dir, err := r.buildPath(group, base, comp, "")
	if err != nil {
		return err
	}
	return WriteFile(dir, prop, value)
}
