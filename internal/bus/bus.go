// Package bus is the in-process transport between execution contexts.
// Each context holds a Port; requests from one port are delivered in order,
// the coordinator consumes them on a single goroutine, and every request
// gets at most one reply. There is no protocol-level cancellation: a caller
// that stops waiting abandons the reply, but the handler still runs to
// completion and may still mutate the store.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/mbuguanewton/notez/internal/message"
)

// ErrClosed is returned when the bus has shut down; to a page context this
// is the "coordinator unreachable, reload" condition.
var ErrClosed = errors.New("bus: channel closed")

// Handler processes one request and returns its single reply.
type Handler func(ctx context.Context, req message.Request) message.Response

type envelope struct {
	req   message.Request
	reply chan message.Response // buffered, capacity 1
}

// Bus routes requests from any number of ports to one handler goroutine.
type Bus struct {
	handler Handler
	reqs    chan envelope
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New creates a bus for the given handler. Call Start before connecting ports.
func New(handler Handler) *Bus {
	return &Bus{
		handler: handler,
		reqs:    make(chan envelope, 64),
		done:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. Requests are handled one at a time,
// making the bus the coordinator's single serialization point.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.loop()
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case env := <-b.reqs:
			// The reply channel is buffered, so a caller that timed out
			// and walked away never blocks the loop.
			env.reply <- b.handler(context.Background(), env.req)
		}
	}
}

// Close stops the dispatch loop. In-flight sends fail with ErrClosed.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

// Connect returns a new port. Ports are cheap; each page agent and each
// transient UI instance holds its own.
func (b *Bus) Connect() *Port {
	return &Port{bus: b}
}

// Port is one context's handle to the bus.
type Port struct {
	bus *Bus
}

// Send delivers a request and waits for its reply. A context timeout only
// stops the wait; the handler keeps running and its reply is discarded.
func (p *Port) Send(ctx context.Context, req message.Request) (message.Response, error) {
	env := envelope{req: req, reply: make(chan message.Response, 1)}

	select {
	case p.bus.reqs <- env:
	case <-ctx.Done():
		return message.Response{}, ctx.Err()
	case <-p.bus.done:
		return message.Response{}, ErrClosed
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return message.Response{}, ctx.Err()
	case <-p.bus.done:
		return message.Response{}, ErrClosed
	}
}
