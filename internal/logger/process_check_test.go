package logger

import (
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"
)

func TestIsProcessRunning(t *testing.T) {
	t.Run("invalid pids", func(t *testing.T) {
		for _, pid := range []int{0, -1} {
			if isProcessRunning(pid) {
				t.Errorf("pid %d should never be treated as running", pid)
			}
		}
	})

	t.Run("pid beyond int32", func(t *testing.T) {
		if strconv.IntSize <= 32 {
			t.Skip("int cannot represent values above int32 range")
		}
		pid := int(int64(math.MaxInt32) + 1)
		if isProcessRunning(pid) {
			t.Fatalf("pid %d is not representable and must count as dead", pid)
		}
	})

	t.Run("current process", func(t *testing.T) {
		if !isProcessRunning(os.Getpid()) {
			t.Fatalf("current process (pid=%d) should be running", os.Getpid())
		}
	})

	t.Run("nonexistent pid", func(t *testing.T) {
		if isProcessRunning(1 << 30) {
			t.Fatal("expected pid 1<<30 to be reported as not running")
		}
	})

	t.Run("exited child", func(t *testing.T) {
		pid := exitedProcessPID(t)
		if isProcessRunning(pid) {
			t.Fatalf("exited child (pid=%d) should be reported as not running", pid)
		}
	})
}

// exitedProcessPID returns the pid of a child that has already terminated.
func exitedProcessPID(t *testing.T) int {
	t.Helper()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", "exit 0")
	} else {
		cmd = exec.Command("sh", "-c", "exit 0")
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper process did not exit cleanly: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	return pid
}

func TestGetProcessStartTime(t *testing.T) {
	start := getProcessStartTime(os.Getpid())
	if start.IsZero() {
		t.Fatal("expected a start time for the current process")
	}
	if start.After(time.Now().Add(5 * time.Second)) {
		t.Fatalf("start time is in the future: %v", start)
	}
}

func TestGetProcessStartTimeInvalidPids(t *testing.T) {
	pids := []int{0, -1, 1 << 30}
	if strconv.IntSize > 32 {
		pids = append(pids, int(int64(math.MaxInt32)+1))
	}
	for _, pid := range pids {
		if !getProcessStartTime(pid).IsZero() {
			t.Errorf("expected zero start time for pid %d", pid)
		}
	}
}
