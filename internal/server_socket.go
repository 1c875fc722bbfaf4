package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salachat/internal/socketio"
	"salachat/internal/storage"
)

const (
	msgWrongPIN     = "PIN de sala incorrecto."
	socketOpTimeout = 5 * time.Second
	timestampLayout = "2006-01-02T15:04:05.000000"
)

func (s *Server) registerSocketHandlers() {
	s.sockets.OnConnect(func(socket *socketio.Socket) {
		s.metrics.IncConn()
		s.logger.Debug().Str("sid", socket.ID()).Msg("chat socket connected")
	})
	s.sockets.On(eventJoinRoom, s.handleJoinRoom)
	s.sockets.On(eventSendMessage, s.handleSendMessage)
	s.sockets.OnDisconnect(s.handleDisconnect)
}

func (s *Server) handleJoinRoom(socket *socketio.Socket, args []json.RawMessage) {
	var req joinRoomPayload
	if err := decodeFirstArg(args, &req); err != nil {
		s.logger.Debug().Err(err).Str("sid", socket.ID()).Msg("bad join_room payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()

	room, err := s.store.GetRoomByPIN(ctx, req.PIN)
	if err != nil {
		s.logger.Error().Err(err).Msg("lookup room by pin")
		_ = socket.Emit(eventJoinError, joinErrorPayload{Error: "Servicio no disponible (BD)."})
		return
	}
	if room == nil {
		_ = socket.Emit(eventJoinError, joinErrorPayload{Error: msgWrongPIN})
		return
	}

	roster, err := s.hub.Join(socket.ID(), room.ID, req.Nickname)
	if err != nil {
		_ = socket.Emit(eventJoinError, joinErrorPayload{Error: err.Error()})
		return
	}
	socket.Join(room.ID)

	history, err := s.roomMessages(ctx, room.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("room", room.ID).Msg("load history")
		history = []Message{}
	}

	_ = s.sockets.To(room.ID).Emit(eventUpdateUserList, roster)
	_ = socket.Emit(eventChatHistory, chatHistoryPayload{
		History:  history,
		RoomType: RoomType(room.Type),
		Users:    roster,
	})
	_ = s.sockets.To(room.ID).Emit(eventNewMessage, systemMessage(fmt.Sprintf("%s se ha unido a la sala.", req.Nickname)))

	s.metrics.IncJoin()
	s.logger.Info().Str("sid", socket.ID()).Str("room", room.ID).Str("nickname", req.Nickname).Msg("joined room")
}

func (s *Server) handleSendMessage(socket *socketio.Socket, args []json.RawMessage) {
	session, ok := s.hub.Session(socket.ID())
	if !ok {
		return
	}
	var req sendMessagePayload
	if err := decodeFirstArg(args, &req); err != nil || req.Contenido == "" {
		return
	}

	msg := Message{
		Nickname:  session.nickname,
		Tipo:      MessageKindText,
		Contenido: req.Contenido,
		Timestamp: s.timestamp(),
	}
	if err := s.persistMessage(session.roomID, msg); err != nil {
		s.logger.Error().Err(err).Str("room", session.roomID).Msg("store message")
		return
	}
	_ = s.sockets.To(session.roomID).Emit(eventNewMessage, msg)
	s.metrics.IncMessage()
}

func (s *Server) handleDisconnect(socket *socketio.Socket, reason string) {
	s.metrics.DecConn()
	session, roster, ok := s.hub.Leave(socket.ID())
	if !ok {
		return
	}
	_ = s.sockets.To(session.roomID).Emit(eventUpdateUserList, roster)
	_ = s.sockets.To(session.roomID).Emit(eventNewMessage, systemMessage(fmt.Sprintf("%s ha abandonado la sala.", session.nickname)))
	s.logger.Info().Str("sid", socket.ID()).Str("room", session.roomID).Str("reason", reason).Msg("left room")
}

func (s *Server) persistMessage(roomID string, msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), socketOpTimeout)
	defer cancel()
	_, err := s.store.AppendMessage(ctx, storage.Message{
		RoomID:    roomID,
		Nickname:  msg.Nickname,
		Kind:      msg.Tipo,
		Content:   msg.Contenido,
		FileName:  msg.NombreArchivo,
		URL:       msg.URL,
		Timestamp: msg.Timestamp,
	})
	return err
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(timestampLayout)
}

func systemMessage(text string) Message {
	return Message{Nickname: SystemNickname, Tipo: MessageKindText, Contenido: text}
}

func decodeFirstArg(args []json.RawMessage, out any) error {
	if len(args) == 0 {
		return errors.New("missing event argument")
	}
	return json.Unmarshal(args[0], out)
}
