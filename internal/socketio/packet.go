// Package socketio speaks the Socket.IO v4 protocol over the Engine.IO v4
// websocket transport. Only the default-namespace features the chat client
// and the bundled development backend need are implemented: connect,
// disconnect, events and server pings. Polling, binary attachments and
// acknowledgements are not supported.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO packet types, the first byte of every websocket frame.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// PacketType is the Socket.IO packet type carried inside an Engine.IO message.
type PacketType int

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// DefaultNamespace is the only namespace this package connects to.
const DefaultNamespace = "/"

// ErrMalformedPacket is returned when a frame cannot be decoded.
var ErrMalformedPacket = errors.New("socketio: malformed packet")

// Packet is a decoded Socket.IO packet.
type Packet struct {
	Type        PacketType
	Namespace   string
	ID          int64
	HasID       bool
	Attachments int
	Data        json.RawMessage
}

// Encode renders the packet in the Socket.IO string format:
// <type>[<attachments>-][<namespace>,][<id>][<json data>].
func (p Packet) Encode() string {
	var sb strings.Builder
	sb.WriteByte(byte('0' + p.Type))
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		sb.WriteString(strconv.Itoa(p.Attachments))
		sb.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		sb.WriteString(p.Namespace)
		sb.WriteByte(',')
	}
	if p.HasID {
		sb.WriteString(strconv.FormatInt(p.ID, 10))
	}
	sb.Write(p.Data)
	return sb.String()
}

// DecodePacket parses a Socket.IO packet (without the Engine.IO prefix).
func DecodePacket(raw string) (Packet, error) {
	if raw == "" {
		return Packet{}, ErrMalformedPacket
	}
	kind := raw[0]
	if kind < '0' || kind > '6' {
		return Packet{}, fmt.Errorf("%w: unknown type %q", ErrMalformedPacket, kind)
	}
	packet := Packet{Type: PacketType(kind - '0'), Namespace: DefaultNamespace}
	rest := raw[1:]

	if packet.Type == PacketBinaryEvent || packet.Type == PacketBinaryAck {
		dash := strings.IndexByte(rest, '-')
		if dash < 0 {
			return Packet{}, fmt.Errorf("%w: missing attachment count", ErrMalformedPacket)
		}
		count, err := strconv.Atoi(rest[:dash])
		if err != nil {
			return Packet{}, fmt.Errorf("%w: attachment count: %v", ErrMalformedPacket, err)
		}
		packet.Attachments = count
		rest = rest[dash+1:]
	}

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			packet.Namespace = rest
			rest = ""
		} else {
			packet.Namespace = rest[:comma]
			rest = rest[comma+1:]
		}
		if q := strings.IndexByte(packet.Namespace, '?'); q >= 0 {
			packet.Namespace = packet.Namespace[:q]
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseInt(rest[:digits], 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", ErrMalformedPacket, err)
		}
		packet.ID = id
		packet.HasID = true
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("%w: invalid json payload", ErrMalformedPacket)
		}
		packet.Data = json.RawMessage(rest)
	}
	return packet, nil
}

// EventPacket builds an EVENT packet for the default namespace.
func EventPacket(event string, args ...any) (Packet, error) {
	if event == "" {
		return Packet{}, errors.New("socketio: event name required")
	}
	items := make([]any, 0, len(args)+1)
	items = append(items, event)
	items = append(items, args...)
	data, err := marshalJSON(items)
	if err != nil {
		return Packet{}, fmt.Errorf("socketio: encode %s: %w", event, err)
	}
	return Packet{Type: PacketEvent, Namespace: DefaultNamespace, Data: data}, nil
}

// Event splits an EVENT packet into its name and raw arguments.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent {
		return "", nil, fmt.Errorf("socketio: %s is not an event packet", p.Type)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil {
		return "", nil, fmt.Errorf("%w: event payload: %v", ErrMalformedPacket, err)
	}
	if len(items) == 0 {
		return "", nil, fmt.Errorf("%w: empty event", ErrMalformedPacket)
	}
	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", ErrMalformedPacket, err)
	}
	return name, items[1:], nil
}

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// connectPayload is the data of a CONNECT packet sent by the server.
type connectPayload struct {
	SID string `json:"sid"`
}

// connectErrorPayload is the data of a CONNECT_ERROR packet.
type connectErrorPayload struct {
	Message string `json:"message"`
}

func engineFrame(kind byte, payload string) []byte {
	frame := make([]byte, 0, len(payload)+1)
	frame = append(frame, kind)
	return append(frame, payload...)
}

func messageFrame(packet Packet) []byte {
	return engineFrame(engineMessage, packet.Encode())
}

func splitFrame(frame []byte) (byte, string, error) {
	if len(frame) == 0 {
		return 0, "", fmt.Errorf("%w: empty frame", ErrMalformedPacket)
	}
	kind := frame[0]
	if kind < engineOpen || kind > engineNoop {
		return 0, "", fmt.Errorf("%w: unknown engine type %q", ErrMalformedPacket, kind)
	}
	return kind, string(frame[1:]), nil
}

// marshalJSON encodes without HTML escaping so <, > and & reach peers as typed.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
