//go:build unix

package agentfsm

import "syscall"

const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

// sendSignal signals the process group rooted at pid, matching the
// Setpgid:true contract external tools are spawned under
// (internal/tools/external.go) so a single signal reaches every descendant.
func sendSignal(pid int, sig syscall.Signal) {
	_ = syscall.Kill(-pid, sig)
}
