package composite

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner executes the compositing tool. Tests substitute a fake.
type Runner interface {
	// Run executes name with args and returns its stderr.
	Run(ctx context.Context, name string, args []string) (stderr []byte, err error)
}

// ExecRunner runs real subprocesses. The context deadline kills the
// process when it expires.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}
