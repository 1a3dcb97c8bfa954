package lock

import (
	"errors"
	"os"
	"os/exec"
	"time"
)

// runAndHold runs argv as a child process and returns its exit code once both
// the child exited and hold elapsed. Without argv it only waits for hold.
func runAndHold(argv []string, hold time.Duration) (int, error) {
	held := time.After(hold)

	code := 0
	if len(argv) > 0 {
		child := exec.Command(argv[0], argv[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		if err := child.Run(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return 0, err
			}
			// killed by a signal
			if code = exitErr.ExitCode(); code < 0 {
				code = 1
			}
		}
	}

	<-held
	return code, nil
}
