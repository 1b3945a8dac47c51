//go:build windows

package procgroup

import "os/exec"

// Windows has no process groups to signal; the default Cancel kills the
// direct child and WaitDelay releases the pipes.
func setGroup(cmd *exec.Cmd) {}
