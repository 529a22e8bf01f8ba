package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dreamware/segstart/internal/cluster"
)

// HTTPExecutor sends payloads to segagent processes running in serve mode.
type HTTPExecutor struct {
	// baseURL maps a host name to the agent's base URL.
	baseURL      func(host string) string
	probeTimeout time.Duration
}

// NewHTTPExecutor targets http://<host>:<port> on every host.
func NewHTTPExecutor(port int) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: func(host string) string {
			return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
		},
		probeTimeout: 2 * time.Second,
	}
}

// SetBaseURLFunc overrides how a host name becomes an agent URL.
func (e *HTTPExecutor) SetBaseURLFunc(f func(host string) string) {
	e.baseURL = f
}

func (e *HTTPExecutor) Name() string { return "http" }

// Execute POSTs the payload to /transition and waits for the agent to
// finish all segments. The context bounds the whole exchange.
func (e *HTTPExecutor) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res.ExitCode = ExitTransportFailure
	defer func() { res.Duration = time.Since(start) }()

	var resp cluster.TransitionResponse
	url := e.baseURL(req.Host) + "/transition"
	if err := cluster.PostJSON(ctx, url, cluster.TransitionRequest{Payload: req.Payload}, &resp); err != nil {
		res.Err = fmt.Errorf("agent on %s: %w", req.Host, err)
		return res
	}
	res.ExitCode = resp.ExitCode
	res.Stdout = resp.Stdout
	res.Stderr = resp.Stderr
	return res
}

// Probe calls the agent's /health endpoint.
func (e *HTTPExecutor) Probe(ctx context.Context, host string) error {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	return cluster.GetJSON(ctx, e.baseURL(host)+"/health", nil)
}
