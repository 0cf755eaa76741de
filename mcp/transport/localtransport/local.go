// Package localtransport implements the Transport contract over an
// in-process channel. NewPair returns two linked ends; a frame sent on one
// end is delivered to the message handler of the other, in send order.
//
// The primary use is testing: a client stack and a fake peer can run in the
// same process without spawning a subprocess or touching the network. Frames
// still round-trip through the JSON codec, so encoding bugs surface the same
// way they would on a real channel.
package localtransport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp/transport"
)

// pipeBuffer bounds frames in flight per direction before Send blocks.
const pipeBuffer = 64

// Pipe is one end of an in-process duplex channel.
type Pipe struct {
	peer *Pipe

	incoming chan []byte
	done     chan struct{}

	closeOnce sync.Once

	mu             sync.Mutex
	started        bool
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
}

var _ transport.Transport = (*Pipe)(nil)

// NewPair returns two linked ends. Each end must be started before it
// delivers inbound frames.
func NewPair() (*Pipe, *Pipe) {
	a := newPipe()
	b := newPipe()
	a.peer = b
	b.peer = a
	return a, b
}

func newPipe() *Pipe {
	return &Pipe{
		incoming: make(chan []byte, pipeBuffer),
		done:     make(chan struct{}),
	}
}

// Start begins the delivery loop for inbound frames.
func (p *Pipe) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("localtransport: already started")
	}
	select {
	case <-p.done:
		return errors.New("localtransport: transport is closed")
	default:
	}
	p.started = true
	go p.deliverLoop(ctx)
	return nil
}

// deliverLoop decodes inbound frames in send order and routes them to the
// message handler. Undecodable frames are reported out of band and skipped.
func (p *Pipe) deliverLoop(ctx context.Context) {
	for {
		select {
		case frame := <-p.incoming:
			msg, err := transport.DecodeFrame(frame)
			if err != nil {
				p.reportError(err)
				continue
			}
			p.mu.Lock()
			handler := p.messageHandler
			p.mu.Unlock()
			if handler != nil {
				handler(ctx, msg)
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send encodes one message and queues it for the peer end. It fails with a
// ConnectionError once either end is closed.
func (p *Pipe) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "localtransport: encode message")
	}

	select {
	case <-p.done:
		return &transport.ConnectionError{Reason: "transport is closed"}
	case <-p.peer.done:
		return &transport.ConnectionError{Reason: "peer is closed"}
	default:
	}

	select {
	case p.peer.incoming <- frame:
		return nil
	case <-p.done:
		return &transport.ConnectionError{Reason: "transport is closed"}
	case <-p.peer.done:
		return &transport.ConnectionError{Reason: "peer is closed"}
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Close terminates this end. It is idempotent. The peer end stays open but
// its sends fail once this end is closed.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		handler := p.closeHandler
		p.mu.Unlock()
		if handler != nil {
			handler()
		}
	})
	return nil
}

func (p *Pipe) reportError(err error) {
	p.mu.Lock()
	handler := p.errorHandler
	p.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// SetCloseHandler sets the callback invoked when this end is closed.
func (p *Pipe) SetCloseHandler(handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeHandler = handler
}

// SetErrorHandler sets the callback for frames that could not be decoded.
func (p *Pipe) SetErrorHandler(handler func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// SetMessageHandler sets the callback for every received message.
func (p *Pipe) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messageHandler = handler
}
