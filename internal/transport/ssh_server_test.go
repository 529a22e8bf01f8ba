package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// sshAgent is an in-process sshd whose "agent" exits with the code named
// in its payload ("exit-N"), or waits for a signal when the payload is "hang".
type sshAgent struct {
	port     int
	commands chan string
	signals  chan string
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startAgentServer(t *testing.T, clientKey ssh.PublicKey) *sshAgent {
	t.Helper()
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) != string(clientKey.Marshal()) {
				return nil, errors.New("unknown key")
			}
			return nil, nil
		},
	}
	cfg.AddHostKey(newSigner(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	s := &sshAgent{
		port:     ln.Addr().(*net.TCPAddr).Port,
		commands: make(chan string, 8),
		signals:  make(chan string, 8),
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serveConn(conn, cfg)
		}
	}()
	return s
}

func (s *sshAgent) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go s.serveSession(ch, requests)
	}
}

func exitStatus(ch ssh.Channel, code int) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
}

func (s *sshAgent) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			var exec struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &exec); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			s.commands <- exec.Command

			_, mode, _ := strings.Cut(exec.Command, "-payload=")
			if mode == "hang" {
				continue
			}
			code, _ := strconv.Atoi(strings.TrimPrefix(mode, "exit-"))
			fmt.Fprintf(ch, "STATUS--DIR:/data/seg0--STARTED:%t--REASONCODE:0--REASON:\n", code == 0)
			fmt.Fprintf(ch.Stderr(), "agent exiting %d\n", code)
			exitStatus(ch, code)
			return
		case "signal":
			var sig struct{ Signal string }
			_ = ssh.Unmarshal(req.Payload, &sig)
			s.signals <- sig.Signal
			exitStatus(ch, 143)
			return
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func newLoopbackExecutor(t *testing.T) (*SSHExecutor, *sshAgent) {
	t.Helper()
	client := newSigner(t)
	srv := startAgentServer(t, client.PublicKey())
	e := newSSHExecutor(SSHConfig{AgentPath: "/usr/local/bin/segagent", Port: srv.port, DialAttempts: 1}, &ssh.ClientConfig{
		User:            "gpadmin",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(client)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	return e, srv
}

// TestSSHExecutorExitCodes runs the agent over a real session and maps the
// remote exit status
func TestSSHExecutorExitCodes(t *testing.T) {
	e, srv := newLoopbackExecutor(t)

	tests := []struct {
		payload string
		code    int
	}{
		{"exit-0", 0},
		{"exit-1", 1},
		{"exit-2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			res := e.Execute(context.Background(), Request{Host: "127.0.0.1", Payload: tt.payload})
			require.NoError(t, res.Err)
			assert.Equal(t, tt.code, res.ExitCode)
			assert.Contains(t, res.Stdout, fmt.Sprintf("STARTED:%t", tt.code == 0))
			assert.Equal(t, fmt.Sprintf("agent exiting %d\n", tt.code), res.Stderr)
			assert.True(t, res.Duration > 0)

			select {
			case cmd := <-srv.commands:
				assert.Equal(t, "/usr/local/bin/segagent start -payload="+tt.payload, cmd)
			case <-time.After(5 * time.Second):
				t.Fatal("agent command never reached the server")
			}
		})
	}

	assert.NoError(t, e.Probe(context.Background(), "127.0.0.1"))
}

// TestSSHExecutorCancelSendsTerm verifies a canceled dispatch signals the
// remote agent and reports the context error
func TestSSHExecutorCancelSendsTerm(t *testing.T) {
	e, srv := newLoopbackExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-srv.commands
		cancel()
	}()

	res := e.Execute(ctx, Request{Host: "127.0.0.1", Payload: "hang"})
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, ExitTransportFailure, res.ExitCode)

	select {
	case sig := <-srv.signals:
		assert.Equal(t, string(ssh.SIGTERM), sig)
	case <-time.After(5 * time.Second):
		t.Fatal("agent was not signaled")
	}
}
