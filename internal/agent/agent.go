package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/segstart/internal/payload"
	"github.com/dreamware/segstart/internal/protocol"
)

// Agent exit codes.
const (
	ExitAllStarted      = 0
	ExitSomeFailed      = 1
	ExitPayloadRejected = 2
)

// DefaultTimeout bounds one segment start when the payload carries none.
const DefaultTimeout = 10 * time.Minute

// Agent starts the segments described by a payload on this host.
type Agent struct {
	starter     Starter
	state       *StateStore
	checkDir    func(dir string) error
	parallelism int
}

// New returns an agent that starts segments with starter, at most 8 at a
// time.
func New(starter Starter) *Agent {
	return &Agent{
		starter:     starter,
		state:       NewStateStore(),
		checkDir:    checkDataDirectory,
		parallelism: 8,
	}
}

// SetParallelism bounds how many segments start at once.
func (a *Agent) SetParallelism(n int) {
	if n > 0 {
		a.parallelism = n
	}
}

// State exposes the outcomes recorded so far.
func (a *Agent) State() *StateStore { return a.state }

// Run decodes encoded, starts every segment in it and writes one STATUS
// line per segment to out, ordered by port. It returns the process exit
// code.
func (a *Agent) Run(ctx context.Context, encoded string, out io.Writer) int {
	code, err := a.run(ctx, encoded, out)
	if err != nil {
		glog.Errorf("Rejected payload: %v", err)
	}
	return code
}

func (a *Agent) run(ctx context.Context, encoded string, out io.Writer) (int, error) {
	p, err := payload.Decode(encoded)
	if err != nil {
		return ExitPayloadRejected, err
	}
	if p.StartMethod != payload.MethodPrimaryOrMirror && p.StartMethod != payload.MethodMirrorless {
		return ExitPayloadRejected, fmt.Errorf("unknown start method %q", p.StartMethod)
	}

	ports := make([]int, 0, len(p.Records))
	for port := range p.Records {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	glog.Infof("dispatch %s: starting %d segments (%s)", p.DispatchID, len(ports), p.StartMethod)
	timeout := p.Timeout(DefaultTimeout)
	statuses := make([]protocol.Status, len(ports))

	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for i, port := range ports {
		i, rec := i, p.Records[port]
		g.Go(func() error {
			statuses[i] = a.startOne(ctx, p, rec, timeout)
			return nil
		})
	}
	_ = g.Wait()

	code := ExitAllStarted
	for _, st := range statuses {
		if _, err := fmt.Fprintln(out, protocol.FormatStatus(st)); err != nil {
			return ExitSomeFailed, fmt.Errorf("write status: %w", err)
		}
		if !st.Started {
			code = ExitSomeFailed
		}
	}
	return code, nil
}

func (a *Agent) startOne(ctx context.Context, p *payload.Payload, rec payload.TransitionRecord, timeout time.Duration) protocol.Status {
	begin := time.Now()
	st := a.attempt(ctx, p, rec, timeout)
	if st.Started {
		glog.Infof("dbid %d started as %s on port %d", rec.DbID, rec.TargetMode, rec.Port)
	} else {
		glog.Warningf("dbid %d failed to start: %s (%s)", rec.DbID, st.Reason, st.ReasonCode)
	}
	a.state.Put(SegmentState{
		DbID:       rec.DbID,
		Port:       rec.Port,
		TargetMode: rec.TargetMode,
		DispatchID: p.DispatchID,
		Status:     st,
		Updated:    time.Now(),
		Duration:   time.Since(begin),
	})
	return st
}

func (a *Agent) attempt(ctx context.Context, p *payload.Payload, rec payload.TransitionRecord, timeout time.Duration) protocol.Status {
	st := protocol.Status{DataDirectory: rec.DataDirectory}

	if err := validTransition(p.StartMethod, rec); err != nil {
		st.ReasonCode, st.Reason = protocol.ReasonInvalidStateTransition, err.Error()
		return st
	}
	if err := a.checkDir(rec.DataDirectory); err != nil {
		st.ReasonCode, st.Reason = protocol.ReasonDataDirectoryDoesNotExist, err.Error()
		return st
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := a.starter.Start(ctx, StartRequest{
		Era:         p.Era,
		DispatchID:  p.DispatchID,
		StartMethod: p.StartMethod,
		Record:      rec,
	})
	if err != nil {
		st.Reason = err.Error()
		var se *StartError
		switch {
		case errors.As(err, &se):
			st.ReasonCode = se.Code
		case errors.Is(err, context.DeadlineExceeded):
			st.ReasonCode = protocol.ReasonServerDidNotRespond
		default:
			st.ReasonCode = protocol.ReasonStartCommandFailed
		}
		return st
	}

	st.Started = true
	st.ReasonCode = protocol.ReasonSuccess
	return st
}

func validTransition(method string, rec payload.TransitionRecord) error {
	switch method {
	case payload.MethodMirrorless:
		if rec.TargetMode != payload.ModeMirrorless {
			return fmt.Errorf("target mode %q is not valid for a mirrorless start", rec.TargetMode)
		}
	default:
		if rec.TargetMode != payload.ModePrimary && rec.TargetMode != payload.ModeMirror {
			return fmt.Errorf("target mode %q is not valid for a primary-or-mirror start", rec.TargetMode)
		}
		if rec.PeerAddress == "" {
			return fmt.Errorf("no peer address for %s", rec.TargetMode)
		}
	}
	return nil
}

func checkDataDirectory(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("data directory %s does not exist", dir)
		}
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
