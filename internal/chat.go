package internal

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

// RoomType decides whether a room accepts file uploads.
type RoomType string

const (
	RoomTypeText       RoomType = "Texto"
	RoomTypeMultimedia RoomType = "Multimedia"
)

// ParseRoomType accepts only the two known room types.
func ParseRoomType(value string) (RoomType, bool) {
	switch RoomType(value) {
	case RoomTypeText, RoomTypeMultimedia:
		return RoomType(value), true
	}
	return "", false
}

// AllowsUploads reports whether files may be posted to the room.
func (t RoomType) AllowsUploads() bool {
	return t == RoomTypeMultimedia
}

// Toggle flips between the two room types.
func (t RoomType) Toggle() RoomType {
	if t == RoomTypeMultimedia {
		return RoomTypeText
	}
	return RoomTypeMultimedia
}

const (
	MessageKindText = "texto"
	MessageKindFile = "archivo"

	// SystemNickname marks server-generated notices.
	SystemNickname = "Sistema"
)

// Message is one chat entry as carried by new_message and chat_history.
type Message struct {
	Nickname      string `json:"nickname"`
	Tipo          string `json:"tipo"`
	Contenido     string `json:"contenido,omitempty"`
	NombreArchivo string `json:"nombre_archivo,omitempty"`
	URL           string `json:"url,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

func (m Message) IsSystem() bool {
	return m.Nickname == SystemNickname
}

func (m Message) IsFile() bool {
	return m.Tipo == MessageKindFile
}

// Room is the admin view of a room. Mensajes is only filled by the history
// endpoint.
type Room struct {
	IDSala             string    `json:"id_sala"`
	PIN                string    `json:"pin"`
	Tipo               RoomType  `json:"tipo"`
	UsuariosConectados []string  `json:"usuarios_conectados"`
	Mensajes           []Message `json:"mensajes,omitempty"`
}

// ChatContext is the state of a joined chat session.
type ChatContext struct {
	Nickname string
	PIN      string
	RoomType RoomType
	History  []Message
	Users    []string
}

// realtime event names
const (
	eventJoinRoom       = "join_room"
	eventSendMessage    = "send_message"
	eventChatHistory    = "chat_history"
	eventJoinError      = "join_error"
	eventNewMessage     = "new_message"
	eventUpdateUserList = "update_user_list"
)

type joinRoomPayload struct {
	PIN      string `json:"pin"`
	Nickname string `json:"nickname"`
}

type sendMessagePayload struct {
	Contenido string `json:"contenido"`
}

type chatHistoryPayload struct {
	History  []Message `json:"history"`
	RoomType RoomType  `json:"roomType"`
	Users    []string  `json:"users"`
}

type joinErrorPayload struct {
	Error string `json:"error"`
}

// Join form limits and messages.
const (
	PINLength         = 4
	NicknameMaxLength = 20

	msgPINLength     = "El PIN debe tener exactamente 4 números."
	msgNicknameEmpty = "Debes ingresar un nickname."
	msgNoChannel     = "No se pudo conectar al servidor. Intenta de nuevo."
	msgJoinTimeout   = "El servidor no respondió a tiempo. Intenta de nuevo."
)

var (
	errPINLength     = errors.New(msgPINLength)
	errNicknameEmpty = errors.New(msgNicknameEmpty)
)

// IsPINRune reports whether r may be typed into the PIN field.
func IsPINRune(r rune) bool {
	return r >= '0' && r <= '9'
}

// IsNicknameRune reports whether r may be typed into the nickname field:
// ASCII letters and digits, whitespace, underscore and hyphen.
func IsNicknameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-':
		return true
	}
	return unicode.IsSpace(r)
}

// ValidatePIN checks a PIN at submit time.
func ValidatePIN(pin string) error {
	if len([]rune(pin)) != PINLength {
		return errPINLength
	}
	for _, r := range pin {
		if !IsPINRune(r) {
			return errPINLength
		}
	}
	return nil
}

// ValidateNickname checks a nickname at submit time. The nickname is sent
// as typed; only its trimmed form must be non-empty.
func ValidateNickname(nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return errNicknameEmpty
	}
	return nil
}

// filterRunes keeps the runes accepted by allow.
func filterRunes(runes []rune, allow func(rune) bool) []rune {
	kept := make([]rune, 0, len(runes))
	for _, r := range runes {
		if allow(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

// AttachmentKind is how a file message is presented.
type AttachmentKind int

const (
	AttachmentLink AttachmentKind = iota
	AttachmentImage
)

var imageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

// fileExtension returns the lowercased text after the last dot, or "" when
// the name has no dot.
func fileExtension(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// IsImageFile decides by extension alone whether a file renders inline.
func IsImageFile(name string) bool {
	_, ok := imageExtensions[fileExtension(name)]
	return ok
}

// ClassifyAttachment picks the presentation for a file message.
func ClassifyAttachment(name string) AttachmentKind {
	if IsImageFile(name) {
		return AttachmentImage
	}
	return AttachmentLink
}

// AttachmentURL resolves a message url against the backend origin.
func AttachmentURL(origin, ref string) string {
	if ref == "" {
		return ""
	}
	if parsed, err := url.Parse(ref); err == nil && parsed.IsAbs() {
		return ref
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(ref, "/")
}
