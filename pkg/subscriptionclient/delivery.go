package subscriptionclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jensneuse/abstractlogger"
)

// delivery publishes the payloads of one operation in order on its own
// goroutine. The queue is unbounded so a slow publisher never holds up the
// goroutine that feeds it.
type delivery struct {
	ctx     context.Context
	topic   string
	publish PublishFunc
	log     abstractlogger.Logger

	mu      sync.Mutex
	queue   []json.RawMessage
	closed  bool
	stopped bool
	signal  chan struct{}
}

func newDelivery(ctx context.Context, topic string, publish PublishFunc, log abstractlogger.Logger) *delivery {
	d := &delivery{
		ctx:     ctx,
		topic:   topic,
		publish: publish,
		log:     log,
		signal:  make(chan struct{}, 1),
	}
	go d.run()
	return d
}

func (d *delivery) run() {
	for {
		payload, ok := d.next()
		if !ok {
			return
		}
		publication := Publication{Topic: d.topic, Payload: payload}
		if err := d.publish(d.ctx, publication); err != nil {
			d.log.Error("subscriptionClient.publish",
				abstractlogger.String("topic", d.topic),
				abstractlogger.Any("endOfStream", publication.EndOfStream()),
				abstractlogger.Error(err),
			)
		}
	}
}

// next blocks until a payload is queued. It reports false once the queue is
// closed and drained, stopped, or the context is done.
func (d *delivery) next() (json.RawMessage, bool) {
	for {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return nil, false
		}
		if len(d.queue) > 0 {
			payload := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return payload, true
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-d.signal:
		case <-d.ctx.Done():
			return nil, false
		}
	}
}

// deliver queues payload without blocking, nil ends the stream.
func (d *delivery) deliver(payload json.RawMessage) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, payload)
	if payload == nil {
		d.closed = true
	}
	d.mu.Unlock()
	d.notify()
}

// stop drops queued payloads and ends the goroutine. A stream that already
// ended is drained first.
func (d *delivery) stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()
	d.notify()
}

func (d *delivery) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}
