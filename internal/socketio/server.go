package socketio

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ServerConfig tunes the Engine.IO heartbeat and frame limits.
type ServerConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64
}

// EventHandler handles one event from a connected socket. Handlers for a
// single socket run sequentially on its read goroutine.
type EventHandler func(socket *Socket, args []json.RawMessage)

// Server accepts Socket.IO websocket connections on the default namespace.
type Server struct {
	config   ServerConfig
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mutex   sync.RWMutex
	sockets map[string]*Socket
	rooms   map[string]map[string]*Socket

	handlers     map[string]EventHandler
	onConnect    func(*Socket)
	onDisconnect func(*Socket, string)
}

// NewServer builds a server. Zero config values fall back to the Engine.IO
// defaults.
func NewServer(config ServerConfig, logger zerolog.Logger) *Server {
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaultPingTimeout
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = 1 << 20
	}
	return &Server{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sockets:  make(map[string]*Socket),
		rooms:    make(map[string]map[string]*Socket),
		handlers: make(map[string]EventHandler),
	}
}

// On registers the handler for event. Register handlers before serving.
func (s *Server) On(event string, handler EventHandler) {
	s.handlers[event] = handler
}

// OnConnect runs after a socket joined the default namespace.
func (s *Server) OnConnect(fn func(*Socket)) {
	s.onConnect = fn
}

// OnDisconnect runs once per socket after it left every room.
func (s *Server) OnDisconnect(fn func(*Socket, string)) {
	s.onDisconnect = fn
}

// ServeHTTP upgrades the request and runs the socket until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("EIO") != protocolVersion {
		writeTransportError(w, 5, "Unsupported protocol version")
		return
	}
	if query.Get("transport") != "websocket" {
		writeTransportError(w, 0, "Transport unknown")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.config.MaxPayload)

	open, _ := marshalJSON(handshake{
		SID:          uuid.NewString(),
		Upgrades:     []string{},
		PingInterval: int(s.config.PingInterval / time.Millisecond),
		PingTimeout:  int(s.config.PingTimeout / time.Millisecond),
		MaxPayload:   s.config.MaxPayload,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, engineFrame(engineOpen, string(open))); err != nil {
		conn.Close()
		return
	}

	if !s.awaitConnect(conn) {
		conn.Close()
		return
	}

	socket := newSocket(s, conn)
	connected, _ := marshalJSON(connectPayload{SID: socket.id})
	socket.enqueue(messageFrame(Packet{Type: PacketConnect, Namespace: DefaultNamespace, Data: connected}))

	s.mutex.Lock()
	s.sockets[socket.id] = socket
	s.mutex.Unlock()

	s.logger.Debug().Str("sid", socket.id).Str("remote", r.RemoteAddr).Msg("socket connected")

	go socket.writePump()
	if s.onConnect != nil {
		s.onConnect(socket)
	}
	socket.readPump()
}

func (s *Server) awaitConnect(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PingTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		kind, payload, err := splitFrame(data)
		if err != nil || kind != engineMessage {
			continue
		}
		packet, err := DecodePacket(payload)
		if err != nil {
			return false
		}
		if packet.Type != PacketConnect {
			continue
		}
		if packet.Namespace != DefaultNamespace {
			refused, _ := marshalJSON(connectErrorPayload{Message: "Invalid namespace"})
			frame := messageFrame(Packet{Type: PacketConnectError, Namespace: packet.Namespace, Data: refused})
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.TextMessage, frame)
			continue
		}
		return true
	}
}

// Socket returns the connected socket with id, or nil.
func (s *Server) Socket(id string) *Socket {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.sockets[id]
}

// Count reports the number of connected sockets.
func (s *Server) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sockets)
}

// RoomMembers returns the ids of the sockets currently in room.
func (s *Server) RoomMembers(room string) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	members := make([]string, 0, len(s.rooms[room]))
	for id := range s.rooms[room] {
		members = append(members, id)
	}
	return members
}

// To targets every socket in room.
func (s *Server) To(room string) *Broadcast {
	return &Broadcast{server: s, room: room}
}

// Close disconnects every socket.
func (s *Server) Close() {
	s.mutex.RLock()
	sockets := make([]*Socket, 0, len(s.sockets))
	for _, socket := range s.sockets {
		sockets = append(sockets, socket)
	}
	s.mutex.RUnlock()
	for _, socket := range sockets {
		socket.Disconnect()
	}
}

func (s *Server) join(socket *Socket, room string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]*Socket)
		s.rooms[room] = members
	}
	members[socket.id] = socket
	socket.rooms[room] = struct{}{}
}

func (s *Server) leave(socket *Socket, room string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.leaveLocked(socket, room)
}

func (s *Server) leaveLocked(socket *Socket, room string) {
	delete(socket.rooms, room)
	if members, ok := s.rooms[room]; ok {
		delete(members, socket.id)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}

func (s *Server) remove(socket *Socket) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for room := range socket.rooms {
		s.leaveLocked(socket, room)
	}
	delete(s.sockets, socket.id)
}

func (s *Server) dispatch(socket *Socket, event string, args []json.RawMessage) {
	handler, ok := s.handlers[event]
	if !ok {
		s.logger.Debug().Str("sid", socket.id).Str("event", event).Msg("unhandled event")
		return
	}
	handler(socket, args)
}

// Broadcast emits to the members of one room.
type Broadcast struct {
	server *Server
	room   string
}

// Emit sends the event to every socket in the room. Sockets whose buffers are
// full are dropped.
func (b *Broadcast) Emit(event string, args ...any) error {
	packet, err := EventPacket(event, args...)
	if err != nil {
		return err
	}
	frame := messageFrame(packet)

	b.server.mutex.RLock()
	members := make([]*Socket, 0, len(b.server.rooms[b.room]))
	for _, socket := range b.server.rooms[b.room] {
		members = append(members, socket)
	}
	b.server.mutex.RUnlock()

	for _, socket := range members {
		if err := socket.enqueue(frame); err != nil {
			b.server.logger.Debug().Err(err).Str("sid", socket.id).Str("event", event).Msg("broadcast skipped socket")
		}
	}
	return nil
}

// Socket is one client connection on the server side.
type Socket struct {
	id     string
	server *Server
	conn   *websocket.Conn

	// guarded by server.mutex
	rooms map[string]struct{}

	sendMutex sync.Mutex
	send      chan []byte
	closed    bool
	reason    string
}

func newSocket(server *Server, conn *websocket.Conn) *Socket {
	return &Socket{
		id:     uuid.NewString(),
		server: server,
		conn:   conn,
		rooms:  make(map[string]struct{}),
		send:   make(chan []byte, sendBufferSize),
	}
}

// ID is the Socket.IO session id sent to the client in the CONNECT packet.
func (s *Socket) ID() string {
	return s.id
}

// Emit sends an event to this socket only.
func (s *Socket) Emit(event string, args ...any) error {
	packet, err := EventPacket(event, args...)
	if err != nil {
		return err
	}
	return s.enqueue(messageFrame(packet))
}

// Join adds the socket to room.
func (s *Socket) Join(room string) {
	s.server.join(s, room)
}

// Leave removes the socket from room.
func (s *Socket) Leave(room string) {
	s.server.leave(s, room)
}

// Disconnect ends the session from the server side.
func (s *Socket) Disconnect() {
	s.enqueue(messageFrame(Packet{Type: PacketDisconnect, Namespace: DefaultNamespace}))
	s.closeSend("server namespace disconnect")
}

func (s *Socket) enqueue(frame []byte) error {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		// slow consumer: drop it rather than stall the room
		s.closed = true
		s.reason = "send buffer full"
		close(s.send)
		return ErrSendBufferFull
	}
}

func (s *Socket) closeSend(reason string) {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.send)
}

func (s *Socket) disconnectReason(fallback string) string {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	if s.reason != "" {
		return s.reason
	}
	return fallback
}

func (s *Socket) readPump() {
	reason := "transport close"
	defer func() {
		s.closeSend(reason)
		s.server.remove(s)
		s.conn.Close()
		if s.server.onDisconnect != nil {
			s.server.onDisconnect(s, s.disconnectReason(reason))
		}
		s.server.logger.Debug().Str("sid", s.id).Str("reason", reason).Msg("socket disconnected")
	}()

	heartbeat := s.server.config.PingInterval + s.server.config.PingTimeout
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(heartbeat))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "transport error"
			}
			return
		}
		kind, payload, err := splitFrame(data)
		if err != nil {
			continue
		}
		switch kind {
		case engineClose:
			return
		case engineMessage:
			packet, err := DecodePacket(payload)
			if err != nil {
				s.server.logger.Debug().Err(err).Str("sid", s.id).Msg("dropping packet")
				continue
			}
			switch packet.Type {
			case PacketDisconnect:
				reason = "client namespace disconnect"
				return
			case PacketEvent:
				event, args, err := packet.Event()
				if err != nil {
					continue
				}
				s.server.dispatch(s, event, args)
			default:
			}
		case enginePong, enginePing, engineOpen, engineUpgrade, engineNoop:
		}
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte{enginePing}); err != nil {
				return
			}
		}
	}
}

func writeTransportError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}
