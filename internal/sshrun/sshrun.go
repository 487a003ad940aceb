// Package sshrun is the thin SSH layer shared by the VM pool's reset step
// and the executor's fetch/run/collect pipeline: dial a VM guest, run a
// command to completion or stream its output line by line, and map the
// result back to a plain exit code. It exists so neither caller has to
// juggle ssh.Session plumbing directly.
package sshrun

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExitUndefined is returned when a command's exit status could not be
// determined (connection dropped, context cancelled before completion).
const ExitUndefined = -1

// Config describes how to reach and authenticate against a VM guest.
type Config struct {
	User           string
	Password       string
	Port           int
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.User == "" {
		c.User = "admin"
	}
	return c
}

// Dial opens an SSH connection to host using cfg's credentials.
func Dial(ctx context.Context, host string, cfg Config) (*ssh.Client, error) {
	cfg = cfg.withDefaults()

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // pool VMs are short-lived and not exposed beyond the worker's own network
		Timeout:         cfg.ConnectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", host, cfg.Port)
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Run executes cmd to completion and returns its exit status. Output is
// discarded; use RunAndCapture or RunStreaming when it's needed.
func Run(ctx context.Context, client *ssh.Client, cmd string) (exitStatus int, err error) {
	return RunStreaming(ctx, client, cmd, nil, nil)
}

// RunAndCapture executes cmd and returns its stdout; stderr is discarded.
func RunAndCapture(ctx context.Context, client *ssh.Client, cmd string) (stdout string, exitStatus int, err error) {
	var buf bytes.Buffer
	exitStatus, err = RunStreaming(ctx, client, cmd, &buf, nil)
	return buf.String(), exitStatus, err
}

// LineFunc receives one line of remote output at a time.
type LineFunc func(line string)

// RunStreaming executes cmd over a new session on client, copying stdout
// and stderr to the given writers as they arrive (nil discards). The
// context bounds the whole call: on cancellation, SIGTERM is sent to the
// remote process and ExitUndefined is returned.
func RunStreaming(ctx context.Context, client *ssh.Client, cmd string, stdout, stderr *bytes.Buffer) (exitStatus int, err error) {
	session, err := client.NewSession()
	if err != nil {
		return ExitUndefined, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	if stdout != nil {
		session.Stdout = stdout
	}
	if stderr != nil {
		session.Stderr = stderr
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return ExitUndefined, ctx.Err()
	case runErr := <-done:
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), exitErr
		}
		if runErr != nil {
			return ExitUndefined, runErr
		}
		return 0, nil
	}
}

// RunLines executes cmd over a new session on client, invoking onStdout /
// onStderr for every line produced as the command runs (PTY-style
// line-buffered output), rather than waiting for completion. Used by the
// executor to tee live output while the job is still running.
func RunLines(ctx context.Context, client *ssh.Client, cmd string, onStdout, onStderr LineFunc) (exitStatus int, err error) {
	session, err := client.NewSession()
	if err != nil {
		return ExitUndefined, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	if err := session.RequestPty("xterm", 80, 200, ssh.TerminalModes{}); err != nil {
		return ExitUndefined, fmt.Errorf("request pty: %w", err)
	}

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return ExitUndefined, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return ExitUndefined, fmt.Errorf("stderr pipe: %w", err)
	}

	var pumpDone = make(chan struct{}, 2)
	go pumpLines(stdoutPipe, onStdout, pumpDone)
	go pumpLines(stderrPipe, onStderr, pumpDone)

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		<-done
		<-pumpDone
		<-pumpDone
		return ExitUndefined, ctx.Err()
	case runErr := <-done:
		<-pumpDone
		<-pumpDone
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), exitErr
		}
		if runErr != nil {
			return ExitUndefined, runErr
		}
		return 0, nil
	}
}

func pumpLines(r io.Reader, fn LineFunc, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	if fn == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}
