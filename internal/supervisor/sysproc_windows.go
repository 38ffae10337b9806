//go:build windows

package supervisor

import "syscall"

// groupSysProcAttr: Setpgid is unavailable on Windows, so the child is
// signaled individually rather than as a group.
func groupSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func killGroup(pid int, sig syscall.Signal) error {
	return nil
}
