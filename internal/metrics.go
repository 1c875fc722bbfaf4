package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	joins       atomic.Uint64
	messages    atomic.Uint64
	uploads     atomic.Uint64
	logins      atomic.Uint64
	roomsMade   atomic.Uint64
	activeConns atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncJoin() {
	m.joins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncRoomCreated() {
	m.roomsMade.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) snapshot() map[string]any {
	return map[string]any{
		"joins_total":         m.joins.Load(),
		"messages_total":      m.messages.Load(),
		"uploads_total":       m.uploads.Load(),
		"admin_logins_total":  m.logins.Load(),
		"rooms_created_total": m.roomsMade.Load(),
		"active_sockets":      m.activeConns.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.snapshot())
}
