//go:build unix

package server

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup starts the server in its own process group so that the
// launcher script and the JVM it spawns can be signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the process group to shut down.
func terminate(pid int) error {
	if pgid, err := unix.Getpgid(pid); err == nil {
		return unix.Kill(-pgid, unix.SIGTERM)
	}
	return unix.Kill(pid, unix.SIGTERM)
}

// kill forcibly ends the process group.
func kill(pid int) error {
	if pgid, err := unix.Getpgid(pid); err == nil {
		return unix.Kill(-pgid, unix.SIGKILL)
	}
	return unix.Kill(pid, unix.SIGKILL)
}
