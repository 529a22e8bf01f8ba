package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/dreamware/segstart/internal/payload"
	"github.com/dreamware/segstart/internal/protocol"
)

// StartRequest is everything a Starter needs to bring one segment up.
type StartRequest struct {
	Era         string
	DispatchID  string
	StartMethod string
	Record      payload.TransitionRecord
}

// Starter brings a single segment up. A returned *StartError carries the
// reason code to report; any other error is reported as a failed start
// command.
type Starter interface {
	Start(ctx context.Context, req StartRequest) error
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, req StartRequest) error

func (f StarterFunc) Start(ctx context.Context, req StartRequest) error { return f(ctx, req) }

// StartError attaches a reason code to a start failure.
type StartError struct {
	Err  error
	Code protocol.ReasonCode
}

func (e *StartError) Error() string { return e.Err.Error() }

func (e *StartError) Unwrap() error { return e.Err }

// DefaultStartCommand is used when no command template is configured.
const DefaultStartCommand = "pg_ctl start -w -D {dir} -o '-p {port}'"

// ExecStarter runs a shell command template per segment.
//
// Placeholders: {dir} {port} {dbid} {mode} {target_mode} {peer_address}
// {peer_port} {era} {full_resync}. String values are shell quoted when they
// need it, so placeholders must not be wrapped in quotes by the template.
type ExecStarter struct {
	Template string
	Shell    string
	Env      []string
}

func NewExecStarter(template string) *ExecStarter {
	if template == "" {
		template = DefaultStartCommand
	}
	return &ExecStarter{Template: template, Shell: "/bin/sh"}
}

// Expand fills the template for one record.
func Expand(template string, req StartRequest) string {
	rec := req.Record
	return strings.NewReplacer(
		"{dir}", shellQuote(rec.DataDirectory),
		"{port}", strconv.Itoa(rec.Port),
		"{dbid}", strconv.Itoa(rec.DbID),
		"{mode}", shellQuote(rec.CurrentMode),
		"{target_mode}", shellQuote(rec.TargetMode),
		"{peer_address}", shellQuote(rec.PeerAddress),
		"{peer_port}", strconv.Itoa(rec.PeerPort),
		"{era}", shellQuote(req.Era),
		"{full_resync}", strconv.FormatBool(rec.FullResyncFlag),
	).Replace(template)
}

// shellQuote leaves plain words alone and single quotes everything else.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '/' || r == '-' || r == '_' || r == '.' || r == ':' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (s *ExecStarter) Start(ctx context.Context, req StartRequest) error {
	line := Expand(s.Template, req)
	glog.V(1).Infof("dbid %d: %s", req.Record.DbID, line)

	cmd := exec.CommandContext(ctx, s.Shell, "-c", line)
	cmd.Env = append(cmd.Environ(), s.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StartError{Code: protocol.ReasonServerDidNotRespond, Err: fmt.Errorf("start command did not finish: %w", ctxErr)}
	}
	detail := strings.TrimSpace(out.String())
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && detail != "" {
		err = fmt.Errorf("%w: %s", err, lastLine(detail))
	}
	return &StartError{Code: protocol.ReasonStartCommandFailed, Err: err}
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
