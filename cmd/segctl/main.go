// Command segctl starts the segments of a database fleet.
//
// It reads the segment topology, picks the segments to start, sends each
// host one start request per wave through the configured transport and
// prints a summary of what came up.
//
// Usage:
//
//	segctl --topology=/etc/segstart/topology.yaml [--dbids=2,3] [--hosts=sdw1] \
//	       [--method=primary-or-mirror|mirrorless] [--transport=ssh|http|local] \
//	       [--workers=16] [--preflight] [--pushgateway=host:9091]
//
// Every flag can also be set in segctl.yaml or as SEGCTL_<KEY>.
//
// Exit codes:
//   - 0: every selected segment started
//   - 1: at least one segment failed to start
//   - 2: configuration, topology, lock or internal error
package main

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slices"

	"github.com/dreamware/segstart/internal/cluster"
	"github.com/dreamware/segstart/internal/config"
	"github.com/dreamware/segstart/internal/coordinator"
	"github.com/dreamware/segstart/internal/lock"
	"github.com/dreamware/segstart/internal/stats"
	"github.com/dreamware/segstart/internal/transport"
	"github.com/dreamware/segstart/internal/workerpool"
)

const (
	exitOK         = 0
	exitSomeFailed = 1
	exitFatal      = 2
	lockName       = "segctl.lock"
)

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	glog.Flush()
	os.Exit(code)
}

// hostExecutor is implemented by every transport.
type hostExecutor interface {
	transport.Executor
	transport.Prober
}

// newExecutor is a variable so tests can swap the transport.
var newExecutor = func(cfg *config.Config) (hostExecutor, error) {
	switch cfg.Transport {
	case config.TransportSSH:
		return transport.NewSSHExecutor(transport.SSHConfig{
			User:           cfg.SSH.User,
			KeyFile:        cfg.SSH.Key,
			KnownHostsFile: cfg.SSH.KnownHosts,
			AgentPath:      cfg.Agent.Path,
			Port:           cfg.SSH.Port,
		})
	case config.TransportHTTP:
		return transport.NewHTTPExecutor(cfg.Agent.Port), nil
	case config.TransportLocal:
		return transport.NewLocalExecutor(cfg.Agent.Path), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("segctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	fs.AddGoFlagSet(goflag.CommandLine)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFatal
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "segctl: %v\n", err)
		return exitFatal
	}

	code := exitFatal
	err = lock.WithLock(lock.NewFileLock(cfg.LockDir, lockName), func() error {
		var err error
		code, err = startSegments(cfg, stdout, stderr)
		return err
	})
	if err != nil {
		glog.Errorf("%v", err)
		fmt.Fprintf(stderr, "segctl: %v\n", err)
		return exitFatal
	}
	return code
}

func startSegments(cfg *config.Config, stdout, stderr io.Writer) (int, error) {
	began := time.Now()

	topo, err := cluster.LoadTopology(cfg.Topology)
	if err != nil {
		return exitFatal, err
	}
	method, err := coordinator.ParseStartMethod(cfg.Method)
	if err != nil {
		return exitFatal, err
	}
	segments := topo.Select(cluster.Filter{
		DbIDs:              cfg.DbIDs,
		Hosts:              cfg.Hosts,
		IncludeCoordinator: cfg.IncludeCoordinator,
	})
	if len(segments) == 0 {
		fmt.Fprintln(stdout, "No segments matched the selection.")
		return exitOK, nil
	}

	exec, err := newExecutor(cfg)
	if err != nil {
		return exitFatal, err
	}

	if cfg.Preflight {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		preflight(ctx, exec, segments, cfg.Workers, stdout)
	}

	pool := workerpool.New(cfg.Workers)
	defer pool.Stop()

	d := coordinator.NewDispatcher(pool, exec, topo.Peers(), coordinator.Options{
		ProgressOut:      stderr,
		FullResync:       cfg.FullResyncSet(),
		Era:              cfg.Era,
		Timeout:          cfg.Timeout,
		ProgressInterval: cfg.ProgressInterval,
		Quiet:            cfg.Quiet,
	})
	res, err := d.Dispatch(segments, method)
	if err != nil {
		return exitFatal, err
	}

	printSummary(stdout, res, time.Since(began))

	instance, _ := os.Hostname()
	if err := stats.Push(cfg.PushGateway, instance); err != nil {
		glog.Warningf("Failed to push metrics to %s: %v", cfg.PushGateway, err)
	}

	if res.NumFailed() > 0 {
		return exitSomeFailed, nil
	}
	return exitOK, nil
}

// preflight reports unreachable hosts. Their segments still go through
// dispatch and fail there, so the summary stays complete.
func preflight(ctx context.Context, prober transport.Prober, segments []cluster.Segment, workers int, out io.Writer) {
	var hosts []string
	for _, hs := range cluster.GroupByHost(segments) {
		hosts = append(hosts, hs.Host)
	}

	monitor := coordinator.NewHostMonitor(prober.Probe)
	monitor.SetParallelism(workers)
	monitor.SetOnUnhealthy(func(host string, err error) {
		glog.Warningf("host %s is unreachable: %v", host, err)
	})
	if unreachable := monitor.Probe(ctx, hosts); len(unreachable) > 0 {
		err := &coordinator.UnreachableError{Hosts: unreachable}
		fmt.Fprintf(out, "Warning: %v; their segments will be reported as failed.\n", err)
	}
}

func printSummary(out io.Writer, res *coordinator.StartSegmentsResult, elapsed time.Duration) {
	total := res.NumSucceeded() + res.NumFailed()
	fmt.Fprintf(out, "Started %s of %s in %s.\n",
		humanize.Comma(int64(res.NumSucceeded())),
		english.Plural(total, "segment", ""),
		elapsed.Round(time.Millisecond))

	failed := res.Failed()
	if len(failed) == 0 {
		return
	}
	slices.SortFunc(failed, func(a, b coordinator.FailedSegmentResult) int {
		return a.Segment.DbID - b.Segment.DbID
	})

	fmt.Fprintf(out, "%s failed:\n", english.Plural(len(failed), "segment", ""))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DBID\tHOST:PORT\tDATA DIRECTORY\tCODE\tREASON")
	for _, f := range failed {
		fmt.Fprintf(tw, "%d\t%s:%d\t%s\t%d\t%s\n",
			f.Segment.DbID, f.Segment.HostName, f.Segment.Port, f.Segment.DataDirectory,
			int(f.ReasonCode), f.Reason)
	}
	_ = tw.Flush()
}
