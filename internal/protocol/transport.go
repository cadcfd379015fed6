// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// maxFrameSize bounds a single protocol frame. Result documents for large
// citation networks run to a few hundred kilobytes; 4 MiB leaves headroom.
const maxFrameSize = 4 << 20

// Transport moves framed messages to and from the data service over some
// byte stream. The production implementation is a subprocess's standard
// streams; tests substitute a scripted fake.
type Transport interface {
	// Start makes the transport ready for traffic. For a subprocess this
	// spawns the process and begins pumping stdout.
	Start(ctx context.Context) error

	// Send writes one frame. Safe for concurrent use.
	Send(frame []byte) error

	// Frames returns the channel of received frames, one per protocol
	// line. The channel is closed when the transport dies.
	Frames() <-chan []byte

	// Close releases the transport and its process, if any.
	Close() error
}

// Factory builds a fresh Transport for each connection attempt.
type Factory func(cfg types.ProtocolConfig, log *zap.Logger) Transport

// stdioTransport runs the data service as a subprocess and speaks
// newline-delimited frames over its standard streams. stderr is drained to
// the debug log so a chatty service cannot block on a full pipe.
type stdioTransport struct {
	cfg types.ProtocolConfig
	log *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	frames chan []byte

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewStdioTransport returns the production subprocess transport.
func NewStdioTransport(cfg types.ProtocolConfig, log *zap.Logger) Transport {
	return &stdioTransport{
		cfg:    cfg,
		log:    log,
		frames: make(chan []byte, 16),
	}
}

// Start spawns the configured command and begins reading its stdout.
func (t *stdioTransport) Start(ctx context.Context) error {
	if len(t.cfg.Command) == 0 {
		return &TransportError{Op: "start", Err: fmt.Errorf("no command configured")}
	}

	cmd := exec.Command(t.cfg.Command[0], t.cfg.Command[1:]...)
	cmd.Dir = t.cfg.WorkingDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Op: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Op: "start", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Op: "start", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &TransportError{Op: "spawn", Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.pumpStdout(stdout)
	go t.drainStderr(stderr)

	select {
	case <-ctx.Done():
		t.Close()
		return &TransportError{Op: "start", Err: ctx.Err()}
	default:
	}

	t.log.Debug("data service process started",
		zap.Strings("command", t.cfg.Command),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Send writes one frame followed by a newline.
func (t *stdioTransport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(frame, '\n')); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Frames returns the received-frame channel.
func (t *stdioTransport) Frames() <-chan []byte {
	return t.frames
}

// pumpStdout copies stdout lines into the frame channel and closes it when
// the process ends or the pipe breaks.
func (t *stdioTransport) pumpStdout(stdout io.Reader) {
	defer close(t.frames)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		t.frames <- line
	}
	if err := scanner.Err(); err != nil {
		t.log.Debug("data service stdout closed", zap.Error(err))
	}
}

// drainStderr forwards the service's diagnostic output to the debug log.
func (t *stdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	for scanner.Scan() {
		if t.cfg.Debug {
			t.log.Debug("data service stderr", zap.ByteString("line", scanner.Bytes()))
		}
	}
}

// Close shuts the process down: stdin is closed to signal EOF, and the
// process is killed if it has not exited within a grace period.
func (t *stdioTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.log.Debug("data service did not exit, killing",
			zap.Int("pid", t.cmd.Process.Pid))
		t.cmd.Process.Kill()
		<-done
	}
	return nil
}
