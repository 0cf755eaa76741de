// Package stdio implements the Transport contract over a spawned peer
// process, using the child's standard input and output as a duplex
// newline-delimited frame stream.
//
// A single dedicated read loop decodes every inbound frame and hands it to
// the installed message handler; it never assumes the next line read is the
// reply to the last request written. Correlation happens above, in the
// protocol layer, which is what allows many simultaneously in-flight calls
// on one channel.
package stdio

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge/mcp", "stdio")

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 4 * 1024 * 1024

// Config describes the peer process to spawn.
type Config struct {
	// Command is the peer executable. Required.
	Command string
	// Args are passed to the peer verbatim.
	Args []string
	// Env entries are appended to the inherited environment.
	Env map[string]string
}

// Transport spawns a peer process and exchanges frames over its pipes.
type Transport struct {
	cfg Config

	mu             sync.Mutex
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	closed         bool
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	waitCh chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport for the given peer command. The process is not
// spawned until Start.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:    cfg,
		waitCh: make(chan struct{}),
	}
}

// Start spawns the peer process and begins the read loop.
func (t *Transport) Start(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.Command) == "" {
		return errors.New("stdio: peer command is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return errors.New("stdio: already started")
	}
	if t.closed {
		return errors.New("stdio: transport is closed")
	}

	cmd := exec.CommandContext(ctx, t.cfg.Command, slices.Clone(t.cfg.Args)...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(t.cfg.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "stdio: open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdio: open stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "stdio: open stderr")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "stdio: start peer process")
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readLoop(stdout)
	go t.waitLoop(stderr)

	logger.KV(xlog.DEBUG, "status", "started", "command", t.cfg.Command)
	return nil
}

// readLoop decodes every inbound frame and routes it to the message handler.
// Malformed frames are reported out of band and skipped; they are fatal to
// the frame, not to the channel.
func (t *Transport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		message, err := transport.DecodeFrame(line)
		if err != nil {
			t.reportError(err)
			continue
		}

		t.mu.Lock()
		handler := t.messageHandler
		t.mu.Unlock()

		if handler != nil {
			handler(context.Background(), message)
		}
	}

	if err := scanner.Err(); err != nil {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			t.reportError(&transport.ConnectionError{Reason: "read peer stdout", Err: err})
			// A dead read loop can never deliver another response, so the
			// channel is fatally broken even though writes would still
			// succeed. Tear it down so pending calls fail now instead of
			// waiting out their timeouts.
			_ = t.Close()
		}
	}
}

// waitLoop drains stderr and reaps the peer process. A peer exit that was
// not requested via Close is surfaced as a ConnectionError and closes the
// channel, failing all pending calls above.
func (t *Transport) waitLoop(stderr io.Reader) {
	defer close(t.waitCh)

	_, _ = io.Copy(io.Discard, stderr)

	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()

	t.mu.Lock()
	closed := t.closed
	closeHandler := t.closeHandler
	t.mu.Unlock()

	if closed {
		return
	}
	if err != nil {
		t.reportError(&transport.ConnectionError{Reason: "peer process exited", Err: err})
	} else {
		t.reportError(&transport.ConnectionError{Reason: "peer process exited"})
	}
	if closeHandler != nil {
		closeHandler()
	}
}

// Send writes one full frame atomically relative to other senders, in write
// order.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	data, err := transport.EncodeFrame(message)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &transport.ConnectionError{Reason: "transport is closed"}
	}
	if t.stdin == nil {
		return errors.New("stdio: not started")
	}
	if _, err := t.stdin.Write(data); err != nil {
		return &transport.ConnectionError{Reason: "write frame", Err: err}
	}
	return nil
}

// Close terminates the peer process and releases its pipes. It is idempotent
// and safe to call on every exit path.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	closeHandler := t.closeHandler
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if cmd != nil {
		<-t.waitCh
	}

	if closeHandler != nil {
		closeHandler()
	}
	logger.KV(xlog.DEBUG, "status", "closed", "command", t.cfg.Command)
	return nil
}

// SetCloseHandler implements Transport.SetCloseHandler.
func (t *Transport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func (t *Transport) reportError(err error) {
	t.mu.Lock()
	handler := t.errorHandler
	t.mu.Unlock()

	if handler != nil {
		handler(err)
		return
	}
	logger.KV(xlog.WARNING, "reason", "transport_error", "err", err.Error())
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
