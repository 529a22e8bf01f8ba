// Package main implements segagent, the host-side program that segctl runs
// to start the segments living on one host.
//
// It has two modes:
//
//	segagent start -payload=<encoded>   start once and exit (ssh and local transports)
//	segagent serve [-listen=:8091]      answer POST /transition over HTTP (http transport)
//
// In both modes one STATUS line is produced per segment:
//
//	STATUS--DIR:/data/primary/seg0--STARTED:true--REASONCODE:0--REASON:
//
// Configuration:
//   - SEGAGENT_START_COMMAND: start command template (default: agent.DefaultStartCommand)
//   - SEGAGENT_LISTEN: serve mode listen address (default: ":8091")
//   - SEGAGENT_PARALLEL: segments started at once (default: 8)
//
// Exit codes for start mode:
//   - 0: every segment started
//   - 1: some segments failed
//   - 2: bad usage or rejected payload
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/dreamware/segstart/internal/agent"
)

const exitUsage = 2

// logFatal is a variable to allow mocking glog.Fatalf in tests.
var logFatal = glog.Fatalf

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	glog.Flush()
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "start":
		return runStart(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return 0
	}
	fmt.Fprintf(stderr, "segagent: unknown command %q\n", args[0])
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: segagent start -payload=<encoded> | segagent serve [-listen=addr]")
}

// newFlagSet carries glog's flags into a subcommand's flag set.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		fs.Var(f.Value, f.Name, f.Usage)
	})
	return fs
}

func newAgent(command string, parallel int) *agent.Agent {
	a := agent.New(agent.NewExecStarter(command))
	a.SetParallelism(parallel)
	return a
}

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("start", stderr)
	encoded := fs.String("payload", "", "encoded transition payload")
	command := fs.String("start-command", getenv("SEGAGENT_START_COMMAND", agent.DefaultStartCommand), "start command template")
	parallel := fs.Int("parallel", getenvInt("SEGAGENT_PARALLEL", 8), "segments started at once")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *encoded == "" {
		fmt.Fprintln(stderr, "segagent: -payload is required")
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newAgent(*command, *parallel).Run(ctx, *encoded, stdout)
}

func runServe(args []string, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	listen := fs.String("listen", getenv("SEGAGENT_LISTEN", ":8091"), "listen address")
	command := fs.String("start-command", getenv("SEGAGENT_START_COMMAND", agent.DefaultStartCommand), "start command template")
	parallel := fs.Int("parallel", getenvInt("SEGAGENT_PARALLEL", 8), "segments started at once")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		logFatal("listen: %v", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, ln, agent.NewHandler(newAgent(*command, *parallel))); err != nil {
		logFatal("serve: %v", err)
		return exitUsage
	}
	return 0
}

// serve runs the agent's HTTP server on ln until ctx is done, then shuts it
// down gracefully.
func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	s := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		glog.Infof("segagent listening on %s", ln.Addr())
		errc <- s.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("Server shutdown error: %v", err)
	}
	glog.Info("segagent stopped")
	return nil
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := getenv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("ignoring %s=%q: %v", k, v, err)
		return def
	}
	return n
}
