package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures SSHExecutor.
type SSHConfig struct {
	User           string
	KeyFile        string
	KnownHostsFile string
	AgentPath      string
	Port           int
	DialTimeout    time.Duration
	// DialAttempts bounds connection retries per host.
	DialAttempts int
}

// SSHExecutor runs the agent binary on each host through an SSH session.
type SSHExecutor struct {
	clientConfig *ssh.ClientConfig
	dial         func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)
	agentPath    string
	port         int
	attempts     int
}

// NewSSHExecutor loads the private key and host key policy from cfg.
// Without a known_hosts file, host keys are not verified.
func NewSSHExecutor(cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if cfg.AgentPath == "" {
		return nil, errors.New("agent path is required")
	}
	keyBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		if hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile); err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		glog.Warningf("ssh host keys will not be verified: no known_hosts file configured")
	}

	return newSSHExecutor(cfg, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
	}), nil
}

func newSSHExecutor(cfg SSHConfig, clientConfig *ssh.ClientConfig) *SSHExecutor {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 3
	}
	if clientConfig.Timeout == 0 {
		clientConfig.Timeout = 10 * time.Second
	}
	return &SSHExecutor{
		clientConfig: clientConfig,
		dial:         ssh.Dial,
		agentPath:    cfg.AgentPath,
		port:         port,
		attempts:     attempts,
	}
}

func (e *SSHExecutor) Name() string { return "ssh" }

func (e *SSHExecutor) connect(ctx context.Context, host string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(e.port))
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.attempts-1)), ctx)

	attempt := 0
	return backoff.RetryWithData(func() (*ssh.Client, error) {
		attempt++
		client, err := e.dial("tcp", addr, e.clientConfig)
		if err != nil {
			glog.V(1).Infof("ssh dial %s attempt %d/%d: %v", addr, attempt, e.attempts, err)
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) {
				return nil, backoff.Permanent(err)
			}
		}
		return client, err
	}, policy)
}

// Execute runs the agent on req.Host. A remote non-zero exit is reported in
// ExitCode; failing to connect or start the session is reported in Err.
func (e *SSHExecutor) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res.ExitCode = ExitTransportFailure
	defer func() { res.Duration = time.Since(start) }()

	client, err := e.connect(ctx, req.Host)
	if err != nil {
		res.Err = fmt.Errorf("ssh %s: %w", req.Host, err)
		return res
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		res.Err = fmt.Errorf("ssh session on %s: %w", req.Host, err)
		return res
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(commandLine(e.agentPath, req.Payload)) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		res.Err = fmt.Errorf("ssh %s: %w", req.Host, ctx.Err())
		return res
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		res.Err = fmt.Errorf("ssh run on %s: %w", req.Host, err)
	}
	return res
}

// Probe opens and closes an SSH connection to host.
func (e *SSHExecutor) Probe(ctx context.Context, host string) error {
	client, err := e.connect(ctx, host)
	if err != nil {
		return err
	}
	return client.Close()
}
