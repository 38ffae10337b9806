//go:build !windows

package supervisor

import "syscall"

// groupSysProcAttr runs the child in its own process group so a cancel or
// timeout can signal the whole group (agent CLIs commonly spawn their own
// children), not just the immediate process.
func groupSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends sig to the child's entire process group.
func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
