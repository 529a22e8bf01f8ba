package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// LocalExecutor runs the agent binary on this machine regardless of the
// target host. It is meant for single-host clusters and development.
type LocalExecutor struct {
	agentPath string
	env       []string
}

func NewLocalExecutor(agentPath string) *LocalExecutor {
	return &LocalExecutor{agentPath: agentPath}
}

// SetEnv adds KEY=VALUE entries to the agent's environment.
func (e *LocalExecutor) SetEnv(env ...string) {
	e.env = append(e.env, env...)
}

func (e *LocalExecutor) Name() string { return "local" }

func (e *LocalExecutor) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res.ExitCode = ExitTransportFailure
	defer func() { res.Duration = time.Since(start) }()

	cmd := exec.CommandContext(ctx, e.agentPath, AgentArgs(req.Payload)...)
	cmd.Env = append(os.Environ(), e.env...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("local agent: %w", ctx.Err())
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		res.ExitCode = exitErr.ExitCode()
	default:
		res.Err = fmt.Errorf("local agent: %w", err)
	}
	return res
}

// Probe checks that the agent binary exists and is executable.
func (e *LocalExecutor) Probe(_ context.Context, _ string) error {
	info, err := os.Stat(e.agentPath)
	if err != nil {
		return err
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", e.agentPath)
	}
	return nil
}
