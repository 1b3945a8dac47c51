//go:build !windows

package procgroup

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_KillsGrandchildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", "echo started; sleep 5; echo done")
	Configure(cmd)
	var out bytes.Buffer
	cmd.Stdout = &out

	start := time.Now()
	err := cmd.Run()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, "started\n", out.String())
}

func TestConfigure_NormalExit(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "sh", "-c", "exit 0")
	Configure(cmd)
	require.NoError(t, cmd.Run())
	assert.Equal(t, WaitDelay, cmd.WaitDelay)
}
