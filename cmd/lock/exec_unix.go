//go:build linux || darwin || freebsd

package lock

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// execCommand replaces the process with argv. conn is inherited by the new
// process image so the server keeps the keys locked until the command exits.
// It only returns on failure.
func execCommand(conn *os.File, argv []string) (int, error) {
	if conn == nil {
		return runAndHold(argv, 0)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, err
	}

	// clear FD_CLOEXEC
	if _, _, errno := syscall.Syscall(syscall.SYS_FCNTL, conn.Fd(), syscall.F_SETFD, 0); errno != 0 {
		return 0, fmt.Errorf("failed to make the connection inheritable: %w", errno)
	}

	return 0, syscall.Exec(path, argv, os.Environ())
}
