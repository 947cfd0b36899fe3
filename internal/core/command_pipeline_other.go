//go:build !unix

package core

import "os/exec"

// Only the direct child is killed here. WaitDelay bounds the wait for any
// process it started.
func killProcessGroupOnCancel(cmd *exec.Cmd) {}
