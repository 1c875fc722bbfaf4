package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Engine.IO protocol revision spoken by Dial and Server.
	protocolVersion = "4"

	defaultPath         = "/socket.io/"
	defaultDialTimeout  = 10 * time.Second
	writeWait           = 10 * time.Second
	closeWait           = time.Second
	sendBufferSize      = 256
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

var (
	// ErrClosed is reported once the connection has been shut down locally.
	ErrClosed = errors.New("socketio: connection closed")
	// ErrServerDisconnect is reported when the server ends the session.
	ErrServerDisconnect = errors.New("socketio: disconnected by server")
	// ErrSendBufferFull is returned by Emit when the writer cannot keep up.
	ErrSendBufferFull = errors.New("socketio: send buffer full")
)

// ConnectError carries the message of a CONNECT_ERROR packet.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect refused: " + e.Message
}

// Handler receives the raw arguments of an event.
type Handler func(args []json.RawMessage)

// Option configures Dial.
type Option func(*Client)

// WithLogger routes connection diagnostics to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHeader adds headers to the websocket handshake request.
func WithHeader(header http.Header) Option {
	return func(c *Client) { c.header = header.Clone() }
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

type registration struct {
	id      uint64
	handler Handler
}

// Client is a Socket.IO connection to the default namespace.
type Client struct {
	conn   *websocket.Conn
	dialer *websocket.Dialer
	header http.Header
	logger zerolog.Logger

	sid          string
	engineSID    string
	pingInterval time.Duration
	pingTimeout  time.Duration

	writeMutex sync.Mutex
	send       chan []byte

	mutex    sync.RWMutex
	handlers map[string][]registration
	nextID   uint64
	err      error

	closing     chan struct{}
	closingOnce sync.Once
	done        chan struct{}
	closeOnce   sync.Once
}

// EndpointURL turns a backend origin into the websocket endpoint of the
// Engine.IO transport. A path on the origin is kept as a mount prefix in
// front of /socket.io/, the same prefix the REST calls use.
func EndpointURL(serverURL string) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if raw == "" {
		return "", errors.New("socketio: server url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("socketio: parse server url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("socketio: server url has no host")
	}
	prefix := strings.TrimRight(parsed.Path, "/")
	if strings.HasSuffix(prefix+"/", defaultPath) {
		prefix = strings.TrimSuffix(prefix+"/", defaultPath)
	}
	parsed.Path = prefix + defaultPath
	parsed.RawPath = ""
	query := parsed.Query()
	query.Set("EIO", protocolVersion)
	query.Set("transport", "websocket")
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	return parsed.String(), nil
}

// Dial opens the websocket, completes the Engine.IO handshake and connects to
// the default namespace. The returned client is live until Close is called or
// the server goes away.
func Dial(ctx context.Context, serverURL string, opts ...Option) (*Client, error) {
	endpoint, err := EndpointURL(serverURL)
	if err != nil {
		return nil, err
	}

	client := &Client{
		dialer:   websocket.DefaultDialer,
		logger:   zerolog.Nop(),
		handlers: make(map[string][]registration),
		send:     make(chan []byte, sendBufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, _, err := client.dialer.DialContext(ctx, endpoint, client.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	client.conn = conn

	if err := client.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	client.logger.Info().Str("sid", client.sid).Str("endpoint", endpoint).Msg("socket connected")

	go client.writePump()
	go client.readPump()
	return client, nil
}

func (c *Client) handshake(ctx context.Context) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	kind, payload, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	if kind != engineOpen {
		return fmt.Errorf("%w: expected open packet, got %q", ErrMalformedPacket, kind)
	}
	var open handshake
	if err := json.Unmarshal([]byte(payload), &open); err != nil {
		return fmt.Errorf("%w: open payload: %v", ErrMalformedPacket, err)
	}
	c.engineSID = open.SID
	c.pingInterval = millis(open.PingInterval, defaultPingInterval)
	c.pingTimeout = millis(open.PingTimeout, defaultPingTimeout)

	if err := c.writeFrame(messageFrame(Packet{Type: PacketConnect, Namespace: DefaultNamespace}), deadline); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	for {
		kind, payload, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("await connect: %w", err)
		}
		switch kind {
		case enginePing:
			if err := c.writeFrame(engineFrame(enginePong, payload), deadline); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			continue
		case engineClose:
			return ErrServerDisconnect
		case engineMessage:
		default:
			continue
		}

		packet, err := DecodePacket(payload)
		if err != nil {
			return err
		}
		if packet.Namespace != DefaultNamespace {
			continue
		}
		switch packet.Type {
		case PacketConnect:
			var connected connectPayload
			if err := json.Unmarshal(packet.Data, &connected); err != nil {
				return fmt.Errorf("%w: connect payload: %v", ErrMalformedPacket, err)
			}
			c.sid = connected.SID
			return nil
		case PacketConnectError:
			var refused connectErrorPayload
			_ = json.Unmarshal(packet.Data, &refused)
			return &ConnectError{Message: refused.Message}
		default:
			c.logger.Debug().Str("type", packet.Type.String()).Msg("packet before connect ignored")
		}
	}
}

func (c *Client) readFrame() (byte, string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return 0, "", err
	}
	return splitFrame(data)
}

func (c *Client) writeFrame(frame []byte, deadline time.Time) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readPump() {
	var err error
	defer func() {
		select {
		case <-c.closing:
			err = ErrClosed
		default:
		}
		c.shutdown(err)
	}()

	for {
		if err = c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout)); err != nil {
			return
		}
		var (
			kind    byte
			payload string
		)
		kind, payload, err = c.readFrame()
		if err != nil {
			if errors.Is(err, ErrMalformedPacket) {
				c.logger.Debug().Err(err).Msg("dropping frame")
				err = nil
				continue
			}
			return
		}

		switch kind {
		case enginePing:
			c.enqueue(engineFrame(enginePong, payload))
		case engineClose:
			err = ErrServerDisconnect
			return
		case engineMessage:
			if err = c.handlePacket(payload); err != nil {
				return
			}
		case engineOpen, enginePong, engineUpgrade, engineNoop:
		}
	}
}

func (c *Client) handlePacket(payload string) error {
	packet, err := DecodePacket(payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("dropping packet")
		return nil
	}
	if packet.Namespace != DefaultNamespace {
		return nil
	}

	switch packet.Type {
	case PacketEvent:
		name, args, err := packet.Event()
		if err != nil {
			c.logger.Debug().Err(err).Msg("dropping event")
			return nil
		}
		c.dispatch(name, args)
	case PacketDisconnect:
		return ErrServerDisconnect
	case PacketConnectError:
		var refused connectErrorPayload
		_ = json.Unmarshal(packet.Data, &refused)
		return &ConnectError{Message: refused.Message}
	case PacketBinaryEvent, PacketBinaryAck:
		c.logger.Warn().Str("type", packet.Type.String()).Msg("binary packets are not supported")
	case PacketAck, PacketConnect:
		c.logger.Debug().Str("type", packet.Type.String()).Msg("packet ignored")
	}
	return nil
}

func (c *Client) dispatch(event string, args []json.RawMessage) {
	c.mutex.RLock()
	registered := append([]registration(nil), c.handlers[event]...)
	c.mutex.RUnlock()

	if len(registered) == 0 {
		c.logger.Debug().Str("event", event).Msg("no handler registered")
		return
	}
	for _, entry := range registered {
		entry.handler(args)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.writeFrame(frame, time.Now().Add(writeWait)); err != nil {
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-c.closing:
			c.flushAndDisconnect()
			return
		case <-c.done:
			return
		}
	}
}

// flushAndDisconnect writes what is still queued, then the DISCONNECT packet,
// and tears the connection down.
func (c *Client) flushAndDisconnect() {
	deadline := time.Now().Add(closeWait)
drain:
	for {
		select {
		case frame := <-c.send:
			if err := c.writeFrame(frame, deadline); err != nil {
				c.shutdown(ErrClosed)
				return
			}
		default:
			break drain
		}
	}
	frame := messageFrame(Packet{Type: PacketDisconnect, Namespace: DefaultNamespace})
	if err := c.writeFrame(frame, deadline); err != nil {
		c.logger.Debug().Err(err).Msg("disconnect packet not sent")
	}
	c.shutdown(ErrClosed)
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// ID returns the Socket.IO session id assigned by the server.
func (c *Client) ID() string {
	return c.sid
}

// Emit queues an event for delivery. It never blocks on the network.
func (c *Client) Emit(event string, args ...any) error {
	packet, err := EventPacket(event, args...)
	if err != nil {
		return err
	}
	return c.enqueue(messageFrame(packet))
}

// On registers handler for event and returns a function that removes it.
// Handlers run on the read goroutine in registration order.
func (c *Client) On(event string, handler Handler) func() {
	c.mutex.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], registration{id: id, handler: handler})
	c.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.off(event, id) })
	}
}

func (c *Client) off(event string, id uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	entries := c.handlers[event]
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].id >= id })
	if idx == len(entries) || entries[idx].id != id {
		return
	}
	entries = append(entries[:idx:idx], entries[idx+1:]...)
	if len(entries) == 0 {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = entries
}

// HandlerCount reports how many handlers are registered for event.
func (c *Client) HandlerCount(event string) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.handlers[event])
}

// Close asks the writer to send a disconnect packet and tear the connection
// down. It returns at once; Done is closed when the teardown has finished.
// Emit fails with ErrClosed from the moment Close returns.
func (c *Client) Close() error {
	c.closingOnce.Do(func() { close(c.closing) })
	return nil
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the connection is live.
func (c *Client) Err() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		c.mutex.Lock()
		c.err = err
		c.mutex.Unlock()
		_ = c.conn.Close()
		close(c.done)
		if errors.Is(err, ErrClosed) {
			c.logger.Info().Str("sid", c.sid).Msg("socket closed")
		} else {
			c.logger.Warn().Err(err).Str("sid", c.sid).Msg("socket lost")
		}
	})
}

func millis(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Millisecond
}
