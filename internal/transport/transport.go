// Package transport runs the segment-control program on a target host and
// returns what it reported.
//
// Three executors are provided: SSHExecutor runs the agent binary over SSH,
// HTTPExecutor posts to a long-running segagent, and LocalExecutor runs the
// agent binary on this machine. Failing to reach the host is reported in
// Result.Err, never as a returned error, so the dispatcher can fold it into
// per-segment failures.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExitTransportFailure is the exit code recorded when the remote program
// could not be run at all.
const ExitTransportFailure = -1

// Request is one remote invocation.
type Request struct {
	Host    string
	Payload string
}

// Result is what came back from one remote invocation.
type Result struct {
	Err      error
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// OK reports whether the remote program ran and exited cleanly.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// String summarizes the result for failure reasons.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("could not run remote command: %v", r.Err)
	}
	out := strings.TrimSpace(r.Stderr)
	if out == "" {
		out = strings.TrimSpace(r.Stdout)
	}
	if out == "" {
		return fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return fmt.Sprintf("exit status %d: %s", r.ExitCode, out)
}

// Executor runs the segment-control program on a host.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) Result
}

// Prober checks that a host can be reached before any work is sent.
type Prober interface {
	Probe(ctx context.Context, host string) error
}

// AgentArgs is the argument vector passed to the agent binary.
func AgentArgs(payload string) []string {
	return []string{"start", "-payload=" + payload}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '-' || r == '_' || r == '.' || r == '=' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// commandLine renders the agent invocation for a remote shell.
func commandLine(agentPath, payload string) string {
	parts := []string{shellQuote(agentPath)}
	for _, a := range AgentArgs(payload) {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}
