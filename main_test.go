// +build linux

package cgroups

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMain(m *testing.M) {
	TestMode = true
	os.Exit(m.Run())
}

// newTestRoutine returns a routine whose component dirs live in a
// tempdir shaped like a cgroup v1 mount: <dir>/<component>/gpdb.
func newTestRoutine(t *testing.T, cfg *Config) *v1Routine {
	t.Helper()

	if cfg == nil {
		cfg = DefaultConfig()
	}
	r := NewV1Routine(cfg).(*v1Routine)
	r.sysInfo.CgroupDir = t.TempDir()
	r.sysInfo.NCores = 8

	foreachComponent(func(comp Component) {
		dir, err := r.buildPath(RootGroupID, BaseGpdb, comp, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	})

	return r
}

// seedGroup creates a group dir with the given interface files so the
// readiness checks see a populated dir.
func seedGroup(t *testing.T, r *v1Routine, group GroupID, comp Component, props map[string]string) string {
	t.Helper()

	dir, err := r.buildPath(group, BaseGpdb, comp, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for prop, value := range props {
		if err := os.WriteFile(filepath.Join(dir, prop), []byte(value), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func removeTestFile(dir, file string) error {
	return os.Remove(filepath.Join(dir, file))
}

func readTestFile(t *testing.T, dir, file string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
