package internal

import (
	"errors"
	"sync"
)

var (
	errNicknameTaken = errors.New("Ese nickname ya está en uso en esta sala.")
	errAlreadyJoined = errors.New("Ya estás conectado a una sala.")
)

// chatSession ties a socket to the room it joined.
type chatSession struct {
	nickname string
	roomID   string
}

// Hub tracks which socket sits in which room under which nickname, and the
// per-room roster in join order.
type Hub struct {
	mutex    sync.RWMutex
	sessions map[string]chatSession
	rosters  map[string][]string
}

// builds an empty hub
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]chatSession),
		rosters:  make(map[string][]string),
	}
}

// Join records socketID as nickname in roomID and returns the new roster.
// The nickname check runs before the one-room-per-socket check.
func (hub *Hub) Join(socketID, roomID, nickname string) ([]string, error) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for _, existing := range hub.rosters[roomID] {
		if existing == nickname {
			return nil, errNicknameTaken
		}
	}
	if _, joined := hub.sessions[socketID]; joined {
		return nil, errAlreadyJoined
	}
	hub.sessions[socketID] = chatSession{nickname: nickname, roomID: roomID}
	hub.rosters[roomID] = append(hub.rosters[roomID], nickname)
	return hub.rosterLocked(roomID), nil
}

// Leave forgets socketID and returns its session and the remaining roster.
func (hub *Hub) Leave(socketID string) (chatSession, []string, bool) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	session, ok := hub.sessions[socketID]
	if !ok {
		return chatSession{}, nil, false
	}
	delete(hub.sessions, socketID)
	roster := hub.rosters[session.roomID]
	for i, nickname := range roster {
		if nickname == session.nickname {
			roster = append(roster[:i:i], roster[i+1:]...)
			break
		}
	}
	if len(roster) == 0 {
		delete(hub.rosters, session.roomID)
	} else {
		hub.rosters[session.roomID] = roster
	}
	return session, hub.rosterLocked(session.roomID), true
}

// Session looks up the room a socket joined.
func (hub *Hub) Session(socketID string) (chatSession, bool) {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	session, ok := hub.sessions[socketID]
	return session, ok
}

// Roster returns a copy of the nicknames connected to roomID.
func (hub *Hub) Roster(roomID string) []string {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rosterLocked(roomID)
}

func (hub *Hub) rosterLocked(roomID string) []string {
	roster := make([]string, len(hub.rosters[roomID]))
	copy(roster, hub.rosters[roomID])
	return roster
}

// CloseRoom drops every session in roomID and returns their socket ids.
func (hub *Hub) CloseRoom(roomID string) []string {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	var socketIDs []string
	for socketID, session := range hub.sessions {
		if session.roomID == roomID {
			socketIDs = append(socketIDs, socketID)
			delete(hub.sessions, socketID)
		}
	}
	delete(hub.rosters, roomID)
	return socketIDs
}
