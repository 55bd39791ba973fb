package trace

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	jaeger "github.com/uber/jaeger-client-go"
)

// DefaultCapacity is the number of pending operations (span appends and
// flush requests) a Client buffers when no Capacity option is given.
const DefaultCapacity uint = 1024

// ErrNoClient indicates that no client is yet initialized.
var ErrNoClient = errors.New("client is not initialized")

// ErrWouldBlock indicates that a client is not able to accept another
// operation at the current time.
var ErrWouldBlock = errors.New("sending span would block")

// ErrClosed is returned for operations on a client that has been closed.
var ErrClosed = errors.New("client is closed")

// op is a function invoked on the transport, such as appending a span or
// flushing the transport buffer.
type op func(jaeger.Transport)

// Client is a jaeger.Reporter that pumps finished spans from user code to
// a jaeger Transport (typically UDP to a jaeger agent).
//
// All transport access happens on a single goroutine, in the order the
// operations were submitted: a flush requested after a span was reported
// always covers that span.
type Client struct {
	transport jaeger.Transport
	log       *logrus.Entry

	// mu guards closed and sends on ops, so that Close never races
	// with a send on a closed channel.
	mu     sync.RWMutex
	closed bool
	ops    chan op
	done   chan struct{}

	capacity uint
	dropped  uint64
}

var _ jaeger.Reporter = &Client{}

// ClientParam is an option for NewClient. Its implementation borrows
// from Dave Cheney's functional options API
// (https://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis).
type ClientParam func(*Client) error

// Capacity indicates how many pending operations a client's channel
// should accommodate.
func Capacity(n uint) ClientParam {
	return func(cl *Client) error {
		if n == 0 {
			return errors.New("capacity must be positive")
		}
		cl.capacity = n
		return nil
	}
}

// Logger sets the entry that transport errors are reported on.
func Logger(log *logrus.Entry) ClientParam {
	return func(cl *Client) error {
		cl.log = log
		return nil
	}
}

// NewClient constructs a client that reports spans to transport and
// starts its pump goroutine.
func NewClient(transport jaeger.Transport, opts ...ClientParam) (*Client, error) {
	cl := &Client{
		transport: transport,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		capacity:  DefaultCapacity,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(cl); err != nil {
			return nil, err
		}
	}
	cl.ops = make(chan op, cl.capacity)
	go cl.run()
	return cl, nil
}

func (c *Client) run() {
	defer close(c.done)
	for do := range c.ops {
		do(c.transport)
	}
	if _, err := c.transport.Flush(); err != nil {
		c.log.WithError(err).Debug("Could not flush spans on close")
	}
	if err := c.transport.Close(); err != nil {
		c.log.WithError(err).Debug("Could not close span transport")
	}
}

func (c *Client) enqueue(o op) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ops <- o:
		return nil
	default:
	}
	return ErrWouldBlock
}

// Report queues span to be appended to the transport. Spans that cannot
// be queued are dropped and counted.
func (c *Client) Report(span *jaeger.Span) {
	span.Retain()
	err := c.enqueue(func(t jaeger.Transport) {
		defer span.Release()
		if _, err := t.Append(span); err != nil {
			c.log.WithError(err).Debug("Could not append span")
		}
	})
	if err != nil {
		span.Release()
		atomic.AddUint64(&c.dropped, 1)
	}
}

// Dropped returns the number of spans discarded because the client was
// full or closed.
func (c *Client) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// Close stops accepting spans, waits for the pending ones to be
// appended, flushes and closes the transport. It is safe to call more
// than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.ops)
	c.mu.Unlock()
	<-c.done
}

// Flush instructs a client to flush to the transport all the spans that
// were reported up until the moment that the flush was received. It
// waits until the flush is completed and returns any error caused by
// flushing.
//
// Flush returns ErrNoClient if client is nil and ErrWouldBlock if the
// client is not able to take more requests.
func Flush(cl *Client) error {
	ch := make(chan error, 1)
	err := FlushAsync(cl, ch)
	if err != nil {
		return err
	}
	return <-ch
}

// FlushAsync instructs a client to flush all the spans that were reported
// up until the moment that the flush was received. Once the client has
// completed the flush, any error (or nil) is sent down the error channel.
//
// FlushAsync returns ErrNoClient if client is nil and ErrWouldBlock
// if the client is not able to take more requests.
func FlushAsync(cl *Client, ch chan<- error) error {
	if cl == nil {
		return ErrNoClient
	}
	return cl.enqueue(func(t jaeger.Transport) {
		_, err := t.Flush()
		if ch != nil {
			ch <- err
		}
	})
}
