// +build linux

package cgroups

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const (
	cgroupFile  = "cgroup.file"
	floatValue  = 2048.0
	floatString = "2048"
)

func TestWriteReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFile(dir, cgroupFile, floatString); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(dir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	}
	if got != floatString {
		t.Fatalf("got %q, want %q", got, floatString)
	}
}

func TestGetCgroupParamUint(t *testing.T) {
	tempDir := t.TempDir()
	tempFile := filepath.Join(tempDir, cgroupFile)

	// Success.
	err := os.WriteFile(tempFile, []byte(floatString), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	value, err := GetCgroupParamUint(tempDir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	} else if value != floatValue {
		t.Fatalf("Expected %d to equal %f", value, floatValue)
	}

	// Success with new line.
	err = os.WriteFile(tempFile, []byte(floatString+"\n"), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	value, err = GetCgroupParamUint(tempDir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	} else if value != floatValue {
		t.Fatalf("Expected %d to equal %f", value, floatValue)
	}

	// Success with negative values
	err = os.WriteFile(tempFile, []byte("-12345"), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	value, err = GetCgroupParamUint(tempDir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	} else if value != 0 {
		t.Fatalf("Expected %d to equal %d", value, 0)
	}

	// Success with negative values lesser than min int64
	s := strconv.FormatFloat(math.MinInt64, 'f', -1, 64)
	err = os.WriteFile(tempFile, []byte(s), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	value, err = GetCgroupParamUint(tempDir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	} else if value != 0 {
		t.Fatalf("Expected %d to equal %d", value, 0)
	}

	// Not a float.
	err = os.WriteFile(tempFile, []byte("not-a-float"), 0o755)
	if err != nil {
		t.Fatal(err)
	}
	_, err = GetCgroupParamUint(tempDir, cgroupFile)
	if err == nil {
		t.Fatal("Expecting error, got none")
	}

	// Unknown file.
	err = os.Remove(tempFile)
	if err != nil {
		t.Fatal(err)
	}
	_, err = GetCgroupParamUint(tempDir, cgroupFile)
	if err == nil {
		t.Fatal("Expecting error, got none")
	}
}

func TestGetCgroupParamInt(t *testing.T) {
	tempDir := t.TempDir()
	tempFile := filepath.Join(tempDir, cgroupFile)

	// the quota interfaces hold -1 for "unlimited"
	if err := os.WriteFile(tempFile, []byte("-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	value, err := GetCgroupParamInt(tempDir, cgroupFile)
	if err != nil {
		t.Fatal(err)
	}
	if value != -1 {
		t.Fatalf("got %d, want -1", value)
	}

	if err := os.WriteFile(tempFile, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := GetCgroupParamInt(tempDir, cgroupFile); err == nil {
		t.Fatal("expected error, got none")
	}
}

func TestGetCgroupParamKeyValue(t *testing.T) {
	k, v, err := GetCgroupParamKeyValue("user 1234")
	if err != nil {
		t.Fatal(err)
	}
	if k != "user" || v != 1234 {
		t.Fatalf("got %q %d", k, v)
	}

	if _, _, err := GetCgroupParamKeyValue("garbage"); err != ErrNotValidFormat {
		t.Fatalf("expected ErrNotValidFormat, got %v", err)
	}
}

func TestReadData(t *testing.T) {
	file := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(file, []byte("42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := readData(file, maxIntStringLen)
	if err != nil {
		t.Fatal(err)
	}
	if data != "42\n" {
		t.Fatalf("got %q", data)
	}
}
