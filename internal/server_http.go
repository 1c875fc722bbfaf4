package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"salachat/internal/storage"
)

// authFailure is a rejected bearer token; it matches errUnauthorized.
type authFailure struct {
	message string
}

func (e *authFailure) Error() string { return e.message }

func (e *authFailure) Is(target error) bool { return target == errUnauthorized }

var (
	errTokenRequired   error = &authFailure{message: "Token de autorización requerido"}
	errTokenInvalid    error = &authFailure{message: "Token inválido o expirado"}
	errBadCredentials  = errors.New("Credenciales inválidas")
	errTooManyAttempts = errors.New("Demasiados intentos. Espera un momento.")
	errInvalidRoomType = errors.New("Tipo de sala debe ser 'Texto' o 'Multimedia'")
	errRoomNotFound    = errors.New("Sala no encontrada")
	errInvalidBody     = errors.New("Cuerpo de la petición inválido")
)

type adminContextKey struct{}

// adminContext is what requireAdmin attaches to authenticated requests.
type adminContext struct {
	AdminID int64
	Token   string
}

func (s *Server) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	key := clientKey(r)
	if !s.loginLimiter.Allow(key) {
		writeError(w, http.StatusTooManyRequests, errTooManyAttempts)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	admin, err := s.store.GetAdminByUsername(r.Context(), req.Usuario)
	if err != nil {
		s.internalError(w, "lookup admin", err)
		return
	}
	if admin == nil || bcrypt.CompareHashAndPassword(admin.PasswordHash, []byte(req.Password)) != nil {
		s.logger.Info().Str("usuario", req.Usuario).Str("remote", key).Msg("admin login rejected")
		writeError(w, http.StatusUnauthorized, errBadCredentials)
		return
	}

	token := uuid.NewString()
	if err := s.store.CreateSession(r.Context(), admin.ID, token, s.now().Add(s.tokenTTL)); err != nil {
		s.internalError(w, "create session", err)
		return
	}
	if _, err := s.store.DeleteExpiredSessions(r.Context(), s.now()); err != nil {
		s.logger.Warn().Err(err).Msg("prune sessions")
	}
	s.loginLimiter.Reset(key)
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, loginResponse{Mensaje: "Login exitoso", Token: token})
}

func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tipo string `json:"tipo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidRoomType)
		return
	}
	roomType, ok := ParseRoomType(req.Tipo)
	if !ok {
		writeError(w, http.StatusBadRequest, errInvalidRoomType)
		return
	}
	room, err := s.store.CreateRoom(r.Context(), string(roomType), newRoomIdentity)
	if err != nil {
		s.internalError(w, "create room", err)
		return
	}
	s.metrics.IncRoomCreated()
	s.logger.Info().Str("room", room.ID).Str("tipo", room.Type).Int64("admin", adminID(r)).Msg("room created")
	writeJSON(w, http.StatusCreated, CreatedRoom{
		Mensaje: "Sala creada exitosamente",
		IDSala:  room.ID,
		PIN:     room.PIN,
		Tipo:    RoomType(room.Type),
	})
}

func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.internalError(w, "list rooms", err)
		return
	}
	rooms := make([]Room, 0, len(records))
	for _, record := range records {
		rooms = append(rooms, s.roomFromRecord(record))
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) HandleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	record, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		s.internalError(w, "get room", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, errRoomNotFound)
		return
	}
	messages, err := s.roomMessages(r.Context(), roomID)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	room := s.roomFromRecord(*record)
	room.Mensajes = messages
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) HandleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if err := s.store.DeleteRoom(r.Context(), roomID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, errRoomNotFound)
			return
		}
		s.internalError(w, "delete room", err)
		return
	}
	for _, socketID := range s.hub.CloseRoom(roomID) {
		if socket := s.sockets.Socket(socketID); socket != nil {
			socket.Disconnect()
		}
	}
	s.logger.Info().Str("room", roomID).Int64("admin", adminID(r)).Msg("room deleted")
	writeJSON(w, http.StatusOK, map[string]string{"mensaje": fmt.Sprintf("Sala %s eliminada exitosamente", roomID)})
}

// requireAdmin rejects requests without a live bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := s.authenticateRequest(r)
		if err != nil {
			if errors.Is(err, errUnauthorized) {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			s.internalError(w, "authenticate", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminContextKey{}, authCtx)))
	})
}

func (s *Server) authenticateRequest(r *http.Request) (*adminContext, error) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, errTokenRequired
	}
	token = strings.TrimSpace(token)
	session, err := s.store.GetSession(r.Context(), token)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.ExpiresAt.After(s.now()) {
		return nil, errTokenInvalid
	}
	return &adminContext{AdminID: session.AdminID, Token: token}, nil
}

func adminID(r *http.Request) int64 {
	if authCtx, ok := r.Context().Value(adminContextKey{}).(*adminContext); ok {
		return authCtx.AdminID
	}
	return 0
}

func (s *Server) roomFromRecord(record storage.Room) Room {
	return Room{
		IDSala:             record.ID,
		PIN:                record.PIN,
		Tipo:               RoomType(record.Type),
		UsuariosConectados: s.hub.Roster(record.ID),
	}
}

func (s *Server) roomMessages(ctx context.Context, roomID string) ([]Message, error) {
	records, err := s.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, Message{
			Nickname:      record.Nickname,
			Tipo:          record.Kind,
			Contenido:     record.Content,
			NombreArchivo: record.FileName,
			URL:           record.URL,
			Timestamp:     record.Timestamp,
		})
	}
	return messages, nil
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, fmt.Errorf("Error interno: %s", op))
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
