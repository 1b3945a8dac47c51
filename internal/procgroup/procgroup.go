// Package procgroup makes context cancellation reach every process a command
// spawns, not only the direct child.
package procgroup

import (
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output pipes after the
// command has been killed.
const WaitDelay = 2 * time.Second

// Configure prepares cmd so that cancelling its context kills the whole
// process tree. cmd must come from exec.CommandContext; call it before Start.
func Configure(cmd *exec.Cmd) {
	setGroup(cmd)
	cmd.WaitDelay = WaitDelay
}
