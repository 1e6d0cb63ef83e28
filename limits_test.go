// +build linux

package cgroups

import (
	"math"
	"reflect"
	"strconv"
	"testing"
)

func TestConvertCpuUsage(t *testing.T) {
	r := newTestRoutine(t, nil)
	r.sysInfo.NCores = 8
	r.systemCfsQuotaUs = 800000
	r.parentCfsQuotaUs = -1

	// idle group over one second
	if got := r.ConvertCpuUsage(0, 1000000); got != 0.0 {
		t.Fatalf("got %v, want 0", got)
	}

	// one core fully busy for one second on an 8 core box
	if got := r.ConvertCpuUsage(1e9, 1000000); got != 12.5 {
		t.Fatalf("got %v, want 12.5", got)
	}
}

func TestConvertCpuUsageParentQuota(t *testing.T) {
	r := newTestRoutine(t, nil)
	r.sysInfo.NCores = 8
	r.systemCfsQuotaUs = 800000
	// the container may only use half the machine
	r.parentCfsQuotaUs = 400000

	// saturating the parent quota reports 100, not 50
	if got := r.ConvertCpuUsage(4e9, 1000000); got != 100.0 {
		t.Fatalf("got %v, want 100", got)
	}
}

func TestConvertCpuUsageMonotonic(t *testing.T) {
	r := newTestRoutine(t, nil)
	r.sysInfo.NCores = 4
	r.parentCfsQuotaUs = -1

	prev := -1.0
	for usage := int64(0); usage <= 4e9; usage += 5e8 {
		got := r.ConvertCpuUsage(usage, 1000000)
		if got < prev {
			t.Fatalf("not monotonic at usage=%d: %v < %v", usage, got, prev)
		}
		prev = got
	}
}

func TestMemswWriteOrder(t *testing.T) {
	raise := memswWriteOrder(200, 100)
	want := []string{"memory.memsw.limit_in_bytes", "memory.limit_in_bytes"}
	if !reflect.DeepEqual(raise, want) {
		t.Fatalf("raise order: %v", raise)
	}

	lower := memswWriteOrder(100, 200)
	want = []string{"memory.limit_in_bytes", "memory.memsw.limit_in_bytes"}
	if !reflect.DeepEqual(lower, want) {
		t.Fatalf("lower order: %v", lower)
	}

	if got := memswWriteOrder(100, 100); got != nil {
		t.Fatalf("equal limits should write nothing, got %v", got)
	}
}

func TestSetMemoryLimitByChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMemory = true
	cfg.EnableSwap = true
	r := newTestRoutine(t, cfg)

	const group GroupID = 42
	dir := seedGroup(t, r, group, ComponentMemory, map[string]string{
		"memory.limit_in_bytes": strconv.FormatInt(100<<20, 10),
	})

	// lower from 100 MiB to 50 MiB
	if err := r.SetMemoryLimitByChunks(group, 50); err != nil {
		t.Fatal(err)
	}

	want := strconv.FormatInt(50<<20, 10)
	if got := readTestFile(t, dir, "memory.limit_in_bytes"); got != want {
		t.Fatalf("memory.limit_in_bytes = %q, want %q", got, want)
	}
	if got := readTestFile(t, dir, "memory.memsw.limit_in_bytes"); got != want {
		t.Fatalf("memory.memsw.limit_in_bytes = %q, want %q", got, want)
	}
}

func TestSetMemoryLimitByChunksDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMemory = false
	r := newTestRoutine(t, cfg)

	// must not touch the fs at all
	if err := r.SetMemoryLimitByChunks(42, 50); err != nil {
		t.Fatal(err)
	}
}

func TestSetCpuLimit(t *testing.T) {
	r := newTestRoutine(t, nil)
	r.sysInfo.NCores = 4

	seedGroup(t, r, RootGroupID, ComponentCPU, map[string]string{
		"cpu.shares":        "10240",
		"cpu.cfs_period_us": "100000",
	})

	const group GroupID = 42
	dir := seedGroup(t, r, group, ComponentCPU, nil)

	if err := r.SetCpuLimit(group, 30); err != nil {
		t.Fatal(err)
	}
	if got := readTestFile(t, dir, "cpu.shares"); got != "3072" {
		t.Fatalf("cpu.shares = %q, want 3072", got)
	}
	// soft limitation only, quota stays unlimited
	if got := readTestFile(t, dir, "cpu.cfs_quota_us"); got != "-1" {
		t.Fatalf("cpu.cfs_quota_us = %q, want -1", got)
	}

	// rate 0 writes zero shares without error
	if err := r.SetCpuLimit(group, 0); err != nil {
		t.Fatal(err)
	}
	if got := readTestFile(t, dir, "cpu.shares"); got != "0" {
		t.Fatalf("cpu.shares = %q, want 0", got)
	}
}

func TestSetCpuLimitCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CpuCeilingEnforcement = true
	r := newTestRoutine(t, cfg)
	r.sysInfo.NCores = 4

	seedGroup(t, r, RootGroupID, ComponentCPU, map[string]string{
		"cpu.shares":        "10240",
		"cpu.cfs_period_us": "100000",
	})

	const group GroupID = 42
	dir := seedGroup(t, r, group, ComponentCPU, nil)

	if err := r.SetCpuLimit(group, 50); err != nil {
		t.Fatal(err)
	}
	// period * ncores * rate / 100 = 100000 * 4 * 50 / 100
	if got := readTestFile(t, dir, "cpu.cfs_quota_us"); got != "200000" {
		t.Fatalf("cpu.cfs_quota_us = %q, want 200000", got)
	}
}

func TestInitCpu(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CpuLimit = 0.9
	cfg.CpuPriority = 10
	r := newTestRoutine(t, cfg)
	r.sysInfo.NCores = 4
	r.systemCfsQuotaUs = 400000 // period 100000 * 4 cores
	r.parentCfsQuotaUs = -1

	// the parent dir here is the component mount point itself
	parentDir, err := r.buildPath(RootGroupID, BaseParent, ComponentCPU, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(parentDir, "cpu.shares", "1024"); err != nil {
		t.Fatal(err)
	}

	gpdbDir := seedGroup(t, r, RootGroupID, ComponentCPU, nil)

	if err := r.initCpu(); err != nil {
		t.Fatal(err)
	}

	// parent unlimited: quota = system quota * cpu_limit
	if got := readTestFile(t, gpdbDir, "cpu.cfs_quota_us"); got != "360000" {
		t.Fatalf("cpu.cfs_quota_us = %q, want 360000", got)
	}
	if got := readTestFile(t, gpdbDir, "cpu.shares"); got != "10240" {
		t.Fatalf("cpu.shares = %q, want 10240", got)
	}
	// the parent value is never modified
	if got := readTestFile(t, parentDir, "cpu.shares"); got != "1024" {
		t.Fatalf("parent cpu.shares = %q, want 1024", got)
	}
}

func TestInitCpuBoundedParent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CpuLimit = 0.5
	cfg.CpuPriority = 10
	r := newTestRoutine(t, cfg)
	r.systemCfsQuotaUs = 400000
	r.parentCfsQuotaUs = 200000

	parentDir, err := r.buildPath(RootGroupID, BaseParent, ComponentCPU, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(parentDir, "cpu.shares", "1024"); err != nil {
		t.Fatal(err)
	}

	gpdbDir := seedGroup(t, r, RootGroupID, ComponentCPU, nil)

	if err := r.initCpu(); err != nil {
		t.Fatal(err)
	}

	// parent bounded: quota = parent quota * cpu_limit
	if got := readTestFile(t, gpdbDir, "cpu.cfs_quota_us"); got != "100000" {
		t.Fatalf("cpu.cfs_quota_us = %q, want 100000", got)
	}
}

func TestTotalMemoryMiB(t *testing.T) {
	const gib = uint64(1) << 30

	tests := []struct {
		name            string
		ram, swap       uint64
		overcommitRatio int
		cgram, cgmemsw  uint64
		want            int64
	}{
		{
			name: "unconstrained host",
			ram:  16 * gib, swap: 4 * gib, overcommitRatio: 50,
			cgram: math.MaxUint64, cgmemsw: math.MaxUint64,
			// min(swap + ram*0.5, ram+swap) = 12 GiB
			want: 12 << 10,
		},
		{
			name: "container caps ram",
			ram:  16 * gib, swap: 4 * gib, overcommitRatio: 100,
			cgram: 8 * gib, cgmemsw: 10 * gib,
			// ram capped to 8, swap becomes 10-8=2, total min(20, 10)=10 GiB
			want: 10 << 10,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := totalMemoryMiB(tc.ram, tc.swap, tc.overcommitRatio, tc.cgram, tc.cgmemsw)
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestGetMemoryUsageDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMemory = false
	r := newTestRoutine(t, cfg)

	usage, err := r.GetMemoryUsage(42)
	if err != nil || usage != 0 {
		t.Fatalf("usage=%d err=%v", usage, err)
	}

	limit, err := r.GetMemoryLimitChunks(42)
	if err != nil || limit != math.MaxInt32 {
		t.Fatalf("limit=%d err=%v", limit, err)
	}
}

func TestGetMemoryUsage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMemory = true
	cfg.EnableSwap = true
	r := newTestRoutine(t, cfg)

	const group GroupID = 42
	seedGroup(t, r, group, ComponentMemory, map[string]string{
		"memory.memsw.usage_in_bytes": strconv.FormatInt(5<<20, 10),
	})

	usage, err := r.GetMemoryUsage(group)
	if err != nil {
		t.Fatal(err)
	}
	if usage != 5 {
		t.Fatalf("usage = %d chunks, want 5", usage)
	}
}

func TestCpusetRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableCpuset = true
	r := newTestRoutine(t, cfg)

	const group GroupID = 42
	seedGroup(t, r, group, ComponentCPUSet, nil)

	if err := r.SetCpuSet(group, "0,1,2-3"); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetCpuSet(group)
	if err != nil {
		t.Fatal(err)
	}
	if got != "0,1,2-3" {
		t.Fatalf("got %q", got)
	}
}

func TestChunkConversion(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.chunksToBytes(50); got != 50<<20 {
		t.Fatalf("chunksToBytes = %d", got)
	}
	if got := cfg.bytesToChunks(50 << 20); got != 50 {
		t.Fatalf("bytesToChunks = %d", got)
	}
	if got := cfg.bytesToChunks(-1); got != 0 {
		t.Fatalf("bytesToChunks(-1) = %d", got)
	}
}
