package coordinator

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/dreamware/segstart/internal/cluster"
	"github.com/dreamware/segstart/internal/payload"
	"github.com/dreamware/segstart/internal/protocol"
	"github.com/dreamware/segstart/internal/stats"
	"github.com/dreamware/segstart/internal/transport"
	"github.com/dreamware/segstart/internal/workerpool"
)

// reasonNoStatus is recorded for a segment that was sent to a host whose
// agent ran but printed no STATUS line for it.
const reasonNoStatus = "no status reported"

// WorkerPool is the subset of *workerpool.Pool the dispatcher needs. The
// pool belongs to the caller; Dispatch only submits, joins and drains it.
type WorkerPool interface {
	NumWorkers() int
	Submit(t workerpool.Task)
	Join()
	JoinWithProgress(w io.Writer, description string, total int, interval time.Duration)
	Completed() []workerpool.Task
}

// Options tune a Dispatcher.
type Options struct {
	// ProgressOut receives the progress bar while joining a wave. Nil logs
	// progress without drawing a bar.
	ProgressOut io.Writer
	// FullResync lists dbids whose mirrors must rebuild from scratch.
	FullResync map[int]bool
	// Era identifies the current cluster lifetime and is passed to agents.
	Era string
	// Timeout is the per-segment start budget carried in the payload.
	Timeout time.Duration
	// ProgressInterval defaults to workerpool.DefaultProgressInterval.
	ProgressInterval time.Duration
	// Quiet joins waves without any progress reporting.
	Quiet bool
}

// Dispatcher sends start requests for a batch of segments across the hosts
// that own them and collects one outcome per segment.
//
// A Dispatcher is not safe for concurrent Dispatch calls on the same pool,
// because the pool's completed list is shared.
type Dispatcher struct {
	pool     WorkerPool
	executor transport.Executor
	peers    map[int]cluster.Segment
	opts     Options
}

// NewDispatcher wires a dispatcher to a caller-owned pool and executor.
// peers maps a dbid to the other member of its replica pair and is only
// consulted for primary-or-mirror starts.
//
// Example:
//
//	pool := workerpool.New(16)
//	defer pool.Stop()
//	d := coordinator.NewDispatcher(pool, exec, topo.Peers(), coordinator.Options{Era: era})
//	res, err := d.Dispatch(topo.Select(filter), coordinator.StartAsPrimaryOrMirror)
func NewDispatcher(pool WorkerPool, executor transport.Executor, peers map[int]cluster.Segment, opts Options) *Dispatcher {
	if peers == nil {
		peers = map[int]cluster.Segment{}
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = workerpool.DefaultProgressInterval
	}
	return &Dispatcher{pool: pool, executor: executor, peers: peers, opts: opts}
}

// Dispatch starts segments with the given method and returns once every
// remote command has finished.
//
// Operational failures (unreachable host, agent crash, a segment that
// refused to start) are reported per segment in the result and never as
// an error. The returned error is reserved for requests that cannot be
// planned, a *TopologyError raised before anything is sent, and for an
// accounting defect, an *InvariantError. Every requested segment appears
// exactly once in either Succeeded or Failed.
func (d *Dispatcher) Dispatch(segments []cluster.Segment, method StartMethod) (*StartSegmentsResult, error) {
	if err := method.validate(); err != nil {
		return nil, err
	}
	if err := validateRequest(segments); err != nil {
		return nil, err
	}

	dispatchID := uuid.NewString()
	waves := PlanWaves(segments, method, d.pool.NumWorkers())

	// Every payload is built before the first submit so that a topology
	// problem never leaves the cluster half started.
	commands := make([][]*hostCommand, len(waves))
	for i, w := range waves {
		cmds, err := d.buildWave(w, method, dispatchID)
		if err != nil {
			return nil, err
		}
		commands[i] = cmds
	}

	glog.Infof("dispatch %s: starting %d segments %s across %d waves with %d workers",
		dispatchID, len(segments), method, len(waves), d.pool.NumWorkers())

	result := NewStartSegmentsResult()
	for i, w := range waves {
		d.runWave(w, commands[i], result)
	}

	recordOutcomes(result)
	if err := result.verify(segments); err != nil {
		glog.Errorf("dispatch %s: %v", dispatchID, err)
		return nil, err
	}
	glog.Infof("dispatch %s: %d started, %d failed", dispatchID, result.NumSucceeded(), result.NumFailed())
	return result, nil
}

func (d *Dispatcher) buildWave(w Wave, method StartMethod, dispatchID string) ([]*hostCommand, error) {
	cmds := make([]*hostCommand, 0, len(w.Hosts))
	for _, hs := range w.Hosts {
		p, err := payload.Build(payload.BuildRequest{
			Peers:      d.peers,
			FullResync: d.opts.FullResync,
			DispatchID: dispatchID,
			Era:        d.opts.Era,
			Host:       hs.Host,
			Segments:   hs.Segments,
			Timeout:    d.opts.Timeout,
			Mirrorless: method == StartAsMirrorless,
		})
		if err != nil {
			return nil, &TopologyError{DbID: failingDbID(hs.Segments, d.peers, method), Err: err}
		}
		encoded, err := payload.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", hs.Host, err)
		}
		cmds = append(cmds, &hostCommand{
			host:     hs.Host,
			segments: hs.Segments,
			payload:  encoded,
			executor: d.executor,
		})
	}
	return cmds, nil
}

// failingDbID finds the segment Build rejected so the TopologyError can
// name it.
func failingDbID(segments []cluster.Segment, peers map[int]cluster.Segment, method StartMethod) int {
	if method == StartAsPrimaryOrMirror {
		for _, s := range segments {
			if _, ok := peers[s.DbID]; !ok {
				return s.DbID
			}
		}
	}
	if len(segments) > 0 {
		return segments[0].DbID
	}
	return 0
}

func (d *Dispatcher) runWave(w Wave, cmds []*hostCommand, result *StartSegmentsResult) {
	if len(cmds) == 0 {
		glog.V(1).Infof("skipping empty %s wave", w.Label)
		return
	}
	stats.WaveCounter.WithLabelValues(w.Label).Inc()
	glog.Infof("dispatching %s wave: %d segments on %d hosts", w.Label, w.NumSegments(), len(cmds))

	for _, c := range cmds {
		d.pool.Submit(c)
	}
	if d.opts.Quiet {
		d.pool.Join()
	} else {
		d.pool.JoinWithProgress(d.opts.ProgressOut, "starting "+w.Label, len(cmds), d.opts.ProgressInterval)
	}

	for _, t := range d.pool.Completed() {
		c, ok := t.(*hostCommand)
		if !ok {
			glog.Warningf("ignoring unexpected task %T drained from worker pool", t)
			continue
		}
		d.collect(c, result)
	}
}

// collect folds one host's command result into per-segment outcomes.
func (d *Dispatcher) collect(c *hostCommand, result *StartSegmentsResult) {
	res := c.result
	if res.Err != nil || (res.ExitCode != 0 && res.ExitCode != 1) {
		reason := res.String()
		glog.Warningf("segments on %s could not be started: %s", c.host, reason)
		for _, seg := range c.segments {
			result.AddFailure(seg, reason, protocol.ReasonUnknownError)
		}
		return
	}

	reported := make(map[string]protocol.Status, len(c.segments))
	for _, st := range protocol.ParseOutput(res.Stdout) {
		if _, dup := reported[st.DataDirectory]; dup {
			glog.Errorf("%s reported %s more than once, keeping the first status; the agent on that host is misbehaving", c.host, st.DataDirectory)
			stats.StatusAnomalyCounter.WithLabelValues("duplicate").Inc()
			continue
		}
		reported[st.DataDirectory] = st
	}

	for _, seg := range c.segments {
		st, ok := reported[seg.DataDirectory]
		if !ok {
			glog.Warningf("%s: no status for %s", c.host, seg)
			result.AddFailure(seg, reasonNoStatus, protocol.ReasonUnknownError)
			continue
		}
		delete(reported, seg.DataDirectory)
		if st.Started {
			result.AddSuccess(seg)
			continue
		}
		glog.V(1).Infof("%s failed to start: %s (%s)", seg, st.Reason, st.ReasonCode)
		result.AddFailure(seg, st.Reason, st.ReasonCode)
	}
	for dir := range reported {
		glog.Warningf("%s reported status for %s which was not requested", c.host, dir)
		stats.StatusAnomalyCounter.WithLabelValues("unrequested").Inc()
	}
}

func recordOutcomes(result *StartSegmentsResult) {
	stats.SegmentOutcomeCounter.WithLabelValues("started").Add(float64(result.NumSucceeded()))
	stats.SegmentOutcomeCounter.WithLabelValues("failed").Add(float64(result.NumFailed()))
	for _, f := range result.failed {
		stats.SegmentFailureCounter.WithLabelValues(strconv.Itoa(int(f.ReasonCode))).Inc()
	}
}

// validateRequest rejects batches whose outcomes could not be attributed
// to a single segment.
func validateRequest(segments []cluster.Segment) error {
	type hostKey struct {
		host string
		port int
	}
	type dirKey struct {
		host, dir string
	}
	dbids := make(map[int]bool, len(segments))
	ports := make(map[hostKey]bool, len(segments))
	dirs := make(map[dirKey]bool, len(segments))
	for _, s := range segments {
		if dbids[s.DbID] {
			return &TopologyError{DbID: s.DbID, Err: ErrDuplicateSegment}
		}
		dbids[s.DbID] = true

		if !protocol.EncodableDataDirectory(s.DataDirectory) {
			return &TopologyError{DbID: s.DbID, Err: ErrUnencodableDataDirectory}
		}

		hk := hostKey{s.HostName, s.Port}
		if ports[hk] {
			return &TopologyError{DbID: s.DbID, Err: ErrPortConflict}
		}
		ports[hk] = true

		dk := dirKey{s.HostName, s.DataDirectory}
		if dirs[dk] {
			return &TopologyError{DbID: s.DbID, Err: ErrDataDirectoryConflict}
		}
		dirs[dk] = true
	}
	return nil
}

// hostCommand is the pool task for one host in one wave.
type hostCommand struct {
	executor transport.Executor
	result   transport.Result
	host     string
	payload  string
	segments []cluster.Segment
}

func (c *hostCommand) Run(ctx context.Context) {
	glog.V(2).Infof("running agent on %s for %d segments", c.host, len(c.segments))
	c.result = c.executor.Execute(ctx, transport.Request{Host: c.host, Payload: c.payload})
	stats.HostCommandHistogram.
		WithLabelValues(c.executor.Name(), stats.ExitCodeLabel(c.result.ExitCode)).
		Observe(c.result.Duration.Seconds())
}
