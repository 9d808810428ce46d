package subscriptionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient/protocol"
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateUnacked
	StateReady
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateUnacked:
		return "unacked"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handler receives the payloads of one operation.
type handler interface {
	// deliver publishes payload, nil ends the stream.
	deliver(payload json.RawMessage)
	// stop releases the handler without publishing the end of the stream.
	stop()
}

// effects are the side effects the machine asks its owner to perform. Results
// are fed back into the machine as events.
type effects interface {
	// dial opens a connection, the result arrives through onDialed.
	dial()
	// read consumes frames of conn, delivered through onFrame and onReadError.
	read(conn Conn, generation uint64)
	// schedule requests onTimer(generation) after delay.
	schedule(delay time.Duration, generation uint64)
	newHandler(topic string, publish PublishFunc) handler
}

type operation struct {
	id      string
	started bool
	payload protocol.StartPayload
	handler handler
}

// operations is the operation registry, iterated in insertion order.
type operations struct {
	order []string
	byID  map[string]*operation
}

func newOperations() *operations {
	return &operations{byID: make(map[string]*operation)}
}

func (o *operations) get(id string) *operation {
	return o.byID[id]
}

func (o *operations) add(op *operation) {
	o.order = append(o.order, op.id)
	o.byID[op.id] = op
}

func (o *operations) remove(id string) {
	if _, ok := o.byID[id]; !ok {
		return
	}
	delete(o.byID, id)
	for i := range o.order {
		if o.order[i] == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// list returns a snapshot, safe to iterate while the registry changes.
func (o *operations) list() []*operation {
	out := make([]*operation, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.byID[id])
	}
	return out
}

func (o *operations) len() int {
	return len(o.order)
}

type subscribeRequest struct {
	// ctx is the context of the caller, nil when nobody can go away
	ctx     context.Context
	id      string
	payload protocol.StartPayload
	publish PublishFunc
	reply   chan subscribeResult
}

// abandoned reports whether the caller stopped waiting for the result.
func (r *subscribeRequest) abandoned() bool {
	return r.ctx != nil && r.ctx.Err() != nil
}

type subscribeResult struct {
	id  string
	err error
}

// machine is the graphql-ws client state machine. It is owned by a single
// goroutine and must not be shared.
type machine struct {
	uri string
	cfg Config
	log abstractlogger.Logger
	fx  effects

	conn            Conn
	connGeneration  uint64
	timerGeneration uint64

	dialing           bool
	ready             bool
	reconnecting      bool
	closedByUser      bool
	terminated        bool
	reconnectAttempts int

	operations *operations
	pending    []*subscribeRequest
}

func newMachine(uri string, cfg Config, fx effects) *machine {
	return &machine{
		uri:        uri,
		cfg:        cfg,
		log:        cfg.Logger,
		fx:         fx,
		operations: newOperations(),
	}
}

func (m *machine) state() State {
	if m.conn != nil {
		if m.ready {
			return StateReady
		}
		return StateUnacked
	}
	switch {
	case m.dialing:
		return StateConnecting
	case m.reconnecting:
		return StateReconnecting
	case m.closedByUser:
		return StateClosed
	default:
		return StateDisconnected
	}
}

func (m *machine) createSubscription(req *subscribeRequest) {
	if m.terminated {
		req.reply <- subscribeResult{err: ErrClientClosed}
		return
	}
	if req.abandoned() {
		req.reply <- subscribeResult{err: req.ctx.Err()}
		return
	}

	if m.conn == nil && !m.reconnecting {
		// the caller waits for the connection to open
		m.pending = append(m.pending, req)
		m.connect()
		return
	}

	req.reply <- m.register(req)
}

func (m *machine) register(req *subscribeRequest) subscribeResult {
	if m.operations.get(req.id) != nil {
		return subscribeResult{id: req.id}
	}

	op := &operation{
		id:      req.id,
		payload: req.payload,
		handler: m.fx.newHandler(Topic(m.cfg.ServiceName, req.id), req.publish),
	}
	m.operations.add(op)

	m.log.Debug("subscriptionClient.createSubscription",
		abstractlogger.String("uri", m.uri),
		abstractlogger.String("id", req.id),
		abstractlogger.Any("ready", m.ready),
	)

	m.startOperation(op)

	return subscribeResult{id: req.id}
}

func (m *machine) connect() {
	if m.conn != nil || m.dialing || m.terminated {
		return
	}
	m.dialing = true

	m.log.Debug("subscriptionClient.connect",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Int("attempt", m.reconnectAttempts),
	)

	m.fx.dial()
}

func (m *machine) onDialed(conn Conn, err error) {
	m.dialing = false

	if m.terminated {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.log.Error("subscriptionClient.connect",
			abstractlogger.String("uri", m.uri),
			abstractlogger.Error(err),
		)
		m.failPending(err)
		if m.reconnecting {
			m.reconnecting = false
			m.reconnect()
		}
		return
	}

	m.conn = conn
	m.connGeneration++
	m.ready = false
	m.closedByUser = false
	m.fx.read(conn, m.connGeneration)

	// a failed init already started a managed reconnect
	_ = m.send(protocol.ConnectionInit(m.cfg.InitPayload))

	pending := m.pending
	m.pending = nil
	for _, req := range pending {
		if req.abandoned() {
			req.reply <- subscribeResult{err: req.ctx.Err()}
			continue
		}
		req.reply <- m.register(req)
	}
}

func (m *machine) onFrame(generation uint64, data []byte) {
	if generation != m.connGeneration || m.conn == nil {
		return
	}

	message, err := protocol.Decode(data)
	if err != nil {
		m.protocolViolation(fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		return
	}

	switch message.Type {
	case protocol.TypeConnectionAck:
		m.onAck()
	case protocol.TypeData:
		if op := m.operations.get(message.ID); op != nil {
			op.handler.deliver(protocol.Data(message.Payload))
		}
	case protocol.TypeComplete:
		if op := m.operations.get(message.ID); op != nil {
			op.handler.deliver(nil)
			m.operations.remove(message.ID)
		}
	case protocol.TypeError:
		if op := m.operations.get(message.ID); op != nil {
			op.handler.deliver(protocol.Errors(message.Payload))
			op.handler.deliver(nil)
			m.operations.remove(message.ID)
		}
	case protocol.TypeKeepAlive:
	case protocol.TypeConnectionError:
		m.protocolViolation(fmt.Errorf("%w: connection_error: %s", ErrProtocolViolation, message.Payload))
	default:
		m.protocolViolation(fmt.Errorf("%w: invalid message type %q", ErrProtocolViolation, message.Type))
	}
}

func (m *machine) onAck() {
	m.reconnecting = false
	m.ready = true
	m.reconnectAttempts = 0

	m.log.Debug("subscriptionClient.ack",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Int("operations", m.operations.len()),
	)

	for _, op := range m.operations.list() {
		m.startOperation(op)
	}

	if m.cfg.ConnectionCallback != nil {
		m.cfg.ConnectionCallback()
	}
}

func (m *machine) onReadError(generation uint64, err error) {
	if generation != m.connGeneration || m.conn == nil {
		return
	}

	m.log.Debug("subscriptionClient.read",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Error(err),
	)

	m.close(m.cfg.Reconnect, false)
}

func (m *machine) onTimer(generation uint64) {
	if generation != m.timerGeneration || !m.reconnecting {
		return
	}
	m.connect()
}

func (m *machine) startOperation(op *operation) {
	if !m.ready || op.started {
		return
	}
	op.started = true

	message, err := protocol.Start(op.id, op.payload)
	if err != nil {
		m.log.Error("subscriptionClient.startOperation",
			abstractlogger.String("id", op.id),
			abstractlogger.Error(err),
		)
		return
	}
	_ = m.send(message)
}

func (m *machine) unsubscribe(id string, force bool) {
	op := m.operations.get(id)
	if op == nil && !force {
		return
	}

	if m.conn != nil {
		_ = m.send(protocol.Stop(id))
	}

	if op != nil {
		m.operations.remove(id)
		op.handler.stop()
	}
}

// unsubscribeAll sends a stop frame for every operation. The registry is
// kept so a reconnect replays the operations. Write failures are ignored, the
// connection is about to be torn down.
func (m *machine) unsubscribeAll() {
	for _, op := range m.operations.list() {
		if data, err := protocol.Encode(protocol.Stop(op.id)); err == nil {
			if err := m.write(data); err != nil {
				m.log.Debug("subscriptionClient.unsubscribeAll",
					abstractlogger.String("id", op.id),
					abstractlogger.Error(err),
				)
			}
		}
	}
}

// dropOperations removes every operation without publishing the end of
// their streams.
func (m *machine) dropOperations() {
	for _, op := range m.operations.list() {
		m.operations.remove(op.id)
		op.handler.stop()
	}
}

func (m *machine) close(tryReconnect, closedByUser bool) {
	m.closedByUser = closedByUser
	m.ready = false
	if closedByUser {
		m.cancelReconnect()
	}

	if m.conn == nil {
		return
	}

	if closedByUser {
		m.unsubscribeAll()
		if !tryReconnect {
			m.dropOperations()
		}
	}

	if err := m.conn.Close(); err != nil {
		m.log.Debug("subscriptionClient.close",
			abstractlogger.String("uri", m.uri),
			abstractlogger.Error(err),
		)
	}
	m.conn = nil
	m.reconnecting = false

	m.log.Debug("subscriptionClient.close",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Any("tryReconnect", tryReconnect),
		abstractlogger.Any("closedByUser", closedByUser),
	)

	if tryReconnect {
		m.markUnstarted()
		m.reconnect()
	}
}

func (m *machine) reconnect() {
	if m.reconnecting || m.terminated {
		return
	}

	if max := m.cfg.MaxReconnectAttempts; max >= 0 && m.reconnectAttempts > max {
		m.log.Error("subscriptionClient.reconnect",
			abstractlogger.String("uri", m.uri),
			abstractlogger.Error(ErrReconnectExhausted),
			abstractlogger.Int("attempts", m.reconnectAttempts),
		)
		if m.cfg.FailedReconnectCallback != nil {
			m.cfg.FailedReconnectCallback()
		}
		return
	}

	m.reconnectAttempts++
	m.reconnecting = true

	delay := ReconnectDelay(m.reconnectAttempts)
	m.timerGeneration++

	m.log.Debug("subscriptionClient.reconnect",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Int("attempt", m.reconnectAttempts),
		abstractlogger.String("delay", delay.String()),
	)

	m.fx.schedule(delay, m.timerGeneration)
}

// forceReconnect handles an external reconnect request.
func (m *machine) forceReconnect() {
	if m.terminated {
		return
	}
	if m.conn != nil {
		m.close(true, false)
		return
	}
	if m.reconnecting || m.dialing {
		return
	}
	m.markUnstarted()
	m.reconnect()
}

func (m *machine) protocolViolation(err error) {
	m.log.Error("subscriptionClient.handleMessage",
		abstractlogger.String("uri", m.uri),
		abstractlogger.Error(err),
	)
	if m.cfg.ProtocolErrorCallback != nil {
		m.cfg.ProtocolErrorCallback(err)
	}
	m.close(m.cfg.Reconnect, false)
}

// shutdown ends the machine for good.
func (m *machine) shutdown() {
	if m.terminated {
		return
	}
	m.close(false, true)
	m.terminated = true

	m.dropOperations()
	m.failPending(ErrClientClosed)
}

func (m *machine) cancelReconnect() {
	m.reconnecting = false
	m.timerGeneration++
}

func (m *machine) markUnstarted() {
	for _, op := range m.operations.list() {
		op.started = false
	}
}

func (m *machine) failPending(err error) {
	for _, req := range m.pending {
		req.reply <- subscribeResult{err: err}
	}
	m.pending = nil
}

// send writes message, a failed write turns into a managed reconnect.
func (m *machine) send(message protocol.Message) error {
	if m.conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(message)
	if err != nil {
		return err
	}

	if err := m.write(data); err != nil {
		m.log.Error("subscriptionClient.send",
			abstractlogger.String("uri", m.uri),
			abstractlogger.String("type", string(message.Type)),
			abstractlogger.Error(err),
		)
		m.close(true, false)
		return err
	}
	return nil
}

func (m *machine) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()
	return m.conn.Write(ctx, data)
}
