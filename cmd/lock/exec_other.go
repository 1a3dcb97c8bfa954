//go:build !(linux || darwin || freebsd)

package lock

import "os"

// execCommand runs argv as a child process, there is no exec that keeps the
// connection open on this platform
func execCommand(conn *os.File, argv []string) (int, error) {
	if conn != nil {
		defer conn.Close()
	}
	return runAndHold(argv, 0)
}
