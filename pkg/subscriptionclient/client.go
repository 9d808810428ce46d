// Package subscriptionclient implements a graphql-ws client that multiplexes
// subscription operations over a single websocket connection. It reconnects
// with exponential backoff and replays every registered operation once the
// new connection is acknowledged.
package subscriptionclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient/protocol"
)

var (
	ErrClientClosed       = errors.New("subscription client closed")
	ErrNotConnected       = errors.New("subscription client not connected")
	ErrProtocolViolation  = errors.New("graphql-ws protocol violation")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrNilPublish         = errors.New("publish func must not be nil")
)

const eventBufferSize = 64

// Client is a graphql-ws client bound to one endpoint. All state lives on a
// single goroutine, the exported methods are safe for concurrent use.
type Client struct {
	ctx       context.Context
	uri       string
	cfg       Config
	protocols []string
	log       abstractlogger.Logger

	machine *machine
	events  chan func()
	done    chan struct{}
	dials   sync.WaitGroup

	// timer is owned by the loop goroutine
	timer *time.Timer
}

// New creates a Client for uri. The connection is opened lazily by the first
// subscription. The client shuts down when ctx is done.
func New(ctx context.Context, uri string, cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		ctx:       ctx,
		uri:       uri,
		cfg:       cfg,
		protocols: cfg.protocols(),
		log:       cfg.Logger,
		events:    make(chan func(), eventBufferSize),
		done:      make(chan struct{}),
	}
	c.machine = newMachine(uri, cfg, c)
	go c.run()
	return c
}

func (c *Client) run() {
	defer close(c.done)

	forceReconnect := c.cfg.ForceReconnect
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case fn := <-c.events:
			fn()
		case _, ok := <-forceReconnect:
			if !ok {
				forceReconnect = nil
				continue
			}
			c.machine.forceReconnect()
		}
	}
}

func (c *Client) shutdown() {
	c.machine.shutdown()
	if c.timer != nil {
		c.timer.Stop()
	}

	// dials in flight report back through events, keep handling them so
	// that late connections get closed
	dialsDone := make(chan struct{})
	go func() {
		c.dials.Wait()
		close(dialsDone)
	}()
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-dialsDone:
			for {
				select {
				case fn := <-c.events:
					fn()
				default:
					c.log.Debug("subscriptionClient.shutdown",
						abstractlogger.String("uri", c.uri),
					)
					return
				}
			}
		}
	}
}

func (c *Client) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the loop goroutine and waits for it to complete.
func (c *Client) do(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClientClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

// CreateSubscription registers an operation and returns its id. Calling it
// again with the same operationID is a no-op. While the client is
// disconnected the call waits for the connection to open, the start frame is
// sent once the server acknowledged the connection.
func (c *Client) CreateSubscription(ctx context.Context, query string, variables json.RawMessage, publish PublishFunc, operationID string) (string, error) {
	if publish == nil {
		return "", ErrNilPublish
	}

	req := &subscribeRequest{
		ctx:     ctx,
		id:      operationID,
		payload: protocol.StartPayload{Query: query, Variables: variables},
		publish: publish,
		reply:   make(chan subscribeResult, 1),
	}
	if !c.post(func() { c.machine.createSubscription(req) }) {
		return "", ErrClientClosed
	}

	select {
	case res := <-req.reply:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClientClosed
	}
}

// Unsubscribe stops an operation. Unknown ids are ignored unless force is set,
// in which case a stop frame is sent regardless.
func (c *Client) Unsubscribe(operationID string, force bool) error {
	return c.do(func() { c.machine.unsubscribe(operationID, force) })
}

// Close closes the connection. With closedByUser a stop frame is sent for
// every operation and no managed reconnect follows. With tryReconnect the
// client reconnects and replays the operations, otherwise a user close drops
// them.
func (c *Client) Close(tryReconnect, closedByUser bool) error {
	return c.do(func() { c.machine.close(tryReconnect, closedByUser) })
}

// Reconnect tears down the connection and reconnects, replaying every
// registered operation.
func (c *Client) Reconnect() error {
	return c.do(c.machine.forceReconnect)
}

func (c *Client) State() State {
	state := StateClosed
	_ = c.do(func() { state = c.machine.state() })
	return state
}

// Done is closed once the client shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) dial() {
	c.dials.Add(1)
	go func() {
		defer c.dials.Done()
		conn, err := c.cfg.Dialer.Dial(c.ctx, c.uri, c.protocols)
		if !c.post(func() { c.machine.onDialed(conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Client) read(conn Conn, generation uint64) {
	go func() {
		for {
			data, err := conn.Read(c.ctx)
			if err != nil {
				c.post(func() { c.machine.onReadError(generation, err) })
				return
			}
			if !c.post(func() { c.machine.onFrame(generation, data) }) {
				return
			}
		}
	}()
}

func (c *Client) schedule(delay time.Duration, generation uint64) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.post(func() { c.machine.onTimer(generation) })
	})
}

func (c *Client) newHandler(topic string, publish PublishFunc) handler {
	return newDelivery(c.ctx, topic, publish, c.log)
}
