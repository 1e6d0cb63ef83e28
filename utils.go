// +build linux

package cgroups

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const CgroupProcesses = "cgroup.procs"

// procCgroupPath is a var so tests can point it at a fixture.
var procCgroupPath = "/proc/1/cgroup"

// procCgroupEntry is one line of /proc/1/cgroup:
//
//	10:cpuset:/
//	4:cpu,cpuacct:/
//	1:name=systemd:/init.scope
//	0::/init.scope
type procCgroupEntry struct {
	HierarchyID string
	Controllers []string
	Path        string
}

func parseProcCgroup(r io.Reader) ([]procCgroupEntry, error) {
	s := bufio.NewScanner(r)
	// Mirror the fixed parse buffer of the C implementation: a line
	// that does not fit is a malformed hierarchy description and the
	// caller falls back to the default dirs.
	s.Buffer(make([]byte, maxPathLen*2), maxPathLen*2)

	var entries []procCgroupEntry
	for s.Scan() {
		text := s.Text()
		parts := strings.SplitN(text, ":", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("invalid cgroup entry: must contain at least two colons: %v", text)
		}
		if parts[1] == "" {
			// v2 style entry, not used by us
			continue
		}

		e := procCgroupEntry{HierarchyID: parts[0], Path: parts[2]}
		for _, ctrl := range strings.Split(parts[1], ",") {
			// for the name=ctrl case there is nothing to do with the name
			if idx := strings.IndexByte(ctrl, '='); idx >= 0 {
				ctrl = ctrl[idx+1:]
			}
			e.Controllers = append(e.Controllers, ctrl)
		}
		entries = append(entries, e)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func parseProcCgroupFile(path string) ([]procCgroupEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseProcCgroup(f)
}

// readProcsFile reads the pid list of a cgroup.procs file.
func readProcsFile(file string) ([]int, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		s   = bufio.NewScanner(f)
		out = []int{}
	)

	for s.Scan() {
		if t := s.Text(); t != "" {
			pid, err := strconv.Atoi(t)
			if err != nil {
				return nil, &ParseError{File: file, Token: t, Err: err}
			}
			out = append(out, pid)
		}
	}
	return out, s.Err()
}

func PathExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return true
}

// WriteCgroupProc writes the specified pid into the cgroup.procs file of
// dir. The kernel accepts exactly one pid per write.
func WriteCgroupProc(dir string, pid int) error {
	if dir == "" {
		return fmt.Errorf("no such directory for %s", CgroupProcesses)
	}

	if pid == -1 {
		return nil
	}

	file, err := OpenFile(dir, CgroupProcesses, os.O_WRONLY)
	if err != nil {
		return fmt.Errorf("failed to write %v to %v: %v", pid, CgroupProcesses, err)
	}
	defer file.Close()

	for i := 0; i < 5; i++ {
		_, err = file.WriteString(strconv.Itoa(pid))
		if err == nil {
			return nil
		}

		// EINVAL might mean that the task being added is in state
		// TASK_NEW, attempt again.
		if errors.Is(err, unix.EINVAL) {
			time.Sleep(30 * time.Millisecond)
			continue
		}

		return fmt.Errorf("failed to write %v to %v: %v", pid, CgroupProcesses, err)
	}
	return err
}

func rmdir(path string) error {
	err := unix.Rmdir(path)
	if err == nil || err == unix.ENOENT {
		return nil
	}
	return &os.PathError{Op: "rmdir", Path: path, Err: err}
}

// removeDir removes an emptied cgroup dir, retrying with backoff while
// the kernel still considers it busy.
func removeDir(path string) error {
	const retries = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < retries; i++ {
		if i != 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err = rmdir(path); err == nil {
			return nil
		}
		if i == 0 {
			logrus.WithError(err).Warnf("failed to remove cgroup %s (will retry)", path)
		}
	}
	return err
}

// lockDir opens path and takes an advisory exclusive lock on it. It
// returns the open descriptor, or -1 without an error when block is
// false and the lock is held elsewhere.
func lockDir(path string, block bool) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: path, Err: err}
	}

	how := unix.LOCK_EX
	if !block {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(fd, how); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return -1, nil
		}
		return -1, &os.PathError{Op: "flock", Path: path, Err: err}
	}
	return fd, nil
}

// unlockDir closes the descriptor returned by lockDir, releasing the lock.
func unlockDir(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

// waitUntil polls pred at the given interval up to max attempts.
// It returns true as soon as pred does.
func waitUntil(pred func() bool, interval time.Duration, max int) bool {
	for i := 0; i < max; i++ {
		if pred() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}
