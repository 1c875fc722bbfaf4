package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	msgConnectionError = "Error de conexión."
	msgListRoomsFailed = "Error al cargar lista de salas."
	msgCreateFailed    = "Error al crear sala."
	msgHistoryFailed   = "Error al cargar historial."
	msgDeleteFailed    = "Error al eliminar la sala."
)

type adminLoginResultMsg struct {
	token   string
	usuario string
	err     error
}

// adminLoginModel collects admin credentials and exchanges them for a token.
type adminLoginModel struct {
	usuarioInput  textinput.Model
	passwordInput textinput.Model
	focus         int
	loading       bool
	active        bool
	err           string

	api     *APIClient
	timeout time.Duration

	onLoginSuccess func(token, usuario string) tea.Cmd
	onBack         func() tea.Cmd
}

func newAdminLoginModel(api *APIClient, timeout time.Duration, usuario string) *adminLoginModel {
	user := textinput.New()
	user.Placeholder = "usuario"
	user.Prompt = "Usuario > "
	user.CharLimit = 64
	user.SetValue(usuario)

	password := textinput.New()
	password.Placeholder = "contraseña"
	password.Prompt = "Password > "
	password.CharLimit = 128
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return &adminLoginModel{
		usuarioInput:  user,
		passwordInput: password,
		api:           api,
		timeout:       timeout,
	}
}

func (login *adminLoginModel) activate() tea.Cmd {
	login.active = true
	login.err = ""
	login.passwordInput.SetValue("")
	login.focus = 0
	if login.usuarioInput.Value() != "" {
		login.focus = 1
	}
	return login.focusCmd()
}

func (login *adminLoginModel) deactivate() {
	login.active = false
	login.loading = false
	login.usuarioInput.Blur()
	login.passwordInput.Blur()
}

func (login *adminLoginModel) focusCmd() tea.Cmd {
	if login.focus == 0 {
		login.passwordInput.Blur()
		return login.usuarioInput.Focus()
	}
	login.usuarioInput.Blur()
	return login.passwordInput.Focus()
}

func (login *adminLoginModel) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case adminLoginResultMsg:
		if !login.loading {
			return nil
		}
		login.loading = false
		if msg.err != nil {
			login.err = errorMessage(msg.err, msgConnectionError)
			return nil
		}
		login.err = ""
		login.passwordInput.SetValue("")
		return login.onLoginSuccess(msg.token, msg.usuario)

	case tea.KeyMsg:
		if login.loading {
			return nil
		}
		switch msg.Type {
		case tea.KeyEsc:
			return login.onBack()
		case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
			login.focus = 1 - login.focus
			return login.focusCmd()
		case tea.KeyEnter:
			if login.focus == 0 {
				login.focus = 1
				return login.focusCmd()
			}
			return login.submit()
		}
		var cmd tea.Cmd
		if login.focus == 0 {
			login.usuarioInput, cmd = login.usuarioInput.Update(msg)
		} else {
			login.passwordInput, cmd = login.passwordInput.Update(msg)
		}
		return cmd
	}
	if !login.active {
		return nil
	}
	var cmd tea.Cmd
	if login.focus == 0 {
		login.usuarioInput, cmd = login.usuarioInput.Update(msg)
	} else {
		login.passwordInput, cmd = login.passwordInput.Update(msg)
	}
	return cmd
}

func (login *adminLoginModel) submit() tea.Cmd {
	login.loading = true
	login.err = ""
	usuario := login.usuarioInput.Value()
	password := login.passwordInput.Value()
	api := login.api
	timeout := login.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		token, err := api.AdminLogin(ctx, usuario, password)
		return adminLoginResultMsg{token: token, usuario: usuario, err: err}
	}
}

// dashboard results carry the activation they belong to
type (
	roomsLoadedMsg struct {
		session int
		rooms   []Room
		err     error
	}
	roomCreatedMsg struct {
		session int
		room    *CreatedRoom
		err     error
	}
	historyLoadedMsg struct {
		session int
		room    *Room
		err     error
	}
	roomDeletedMsg struct {
		session int
		roomID  string
		err     error
	}
)

// dashboardModel is the admin console: room list, creation, history and
// deletion. Every action blocks until its reply arrives.
type dashboardModel struct {
	rooms       []Room
	selected    int
	newRoomType RoomType
	loading     bool
	err         string
	notice      string

	confirmDelete bool
	history       *Room

	token   string
	session int
	api     *APIClient
	timeout time.Duration

	onLogout func() tea.Cmd
}

func newDashboardModel(api *APIClient, timeout time.Duration) *dashboardModel {
	return &dashboardModel{
		newRoomType: RoomTypeText,
		api:         api,
		timeout:     timeout,
	}
}

func (dash *dashboardModel) activate(token string) tea.Cmd {
	dash.session++
	dash.token = token
	dash.rooms = nil
	dash.selected = 0
	dash.err = ""
	dash.notice = ""
	dash.history = nil
	dash.confirmDelete = false
	return dash.fetchRooms()
}

func (dash *dashboardModel) deactivate() {
	dash.session++
	dash.token = ""
	dash.loading = false
	dash.history = nil
	dash.confirmDelete = false
}

func (dash *dashboardModel) selectedRoom() (Room, bool) {
	if dash.selected < 0 || dash.selected >= len(dash.rooms) {
		return Room{}, false
	}
	return dash.rooms[dash.selected], true
}

func (dash *dashboardModel) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case roomsLoadedMsg:
		if msg.session != dash.session {
			return nil
		}
		dash.loading = false
		if msg.err != nil {
			dash.err = errorMessage(msg.err, msgListRoomsFailed)
			return nil
		}
		dash.rooms = msg.rooms
		if dash.selected >= len(dash.rooms) {
			dash.selected = max(len(dash.rooms)-1, 0)
		}
		return nil

	case roomCreatedMsg:
		if msg.session != dash.session {
			return nil
		}
		if msg.err != nil {
			dash.loading = false
			dash.err = errorMessage(msg.err, msgCreateFailed)
			return nil
		}
		dash.notice = fmt.Sprintf("Sala creada. PIN: %s (%s)", msg.room.PIN, msg.room.Tipo)
		return dash.fetchRooms()

	case historyLoadedMsg:
		if msg.session != dash.session {
			return nil
		}
		dash.loading = false
		if msg.err != nil {
			dash.err = errorMessage(msg.err, msgHistoryFailed)
			return nil
		}
		dash.history = msg.room
		return nil

	case roomDeletedMsg:
		if msg.session != dash.session {
			return nil
		}
		if msg.err != nil {
			dash.loading = false
			dash.err = errorMessage(msg.err, msgDeleteFailed)
			return nil
		}
		dash.notice = fmt.Sprintf("Sala %s eliminada.", msg.roomID)
		return dash.fetchRooms()

	case tea.KeyMsg:
		return dash.handleKey(msg)
	}
	return nil
}

func (dash *dashboardModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if dash.loading {
		return nil
	}
	if dash.history != nil {
		if msg.Type == tea.KeyEsc {
			dash.history = nil
		}
		return nil
	}
	if dash.confirmDelete {
		dash.confirmDelete = false
		if msg.String() == "s" {
			return dash.deleteSelected()
		}
		return nil
	}

	switch msg.String() {
	case "up", "k":
		if dash.selected > 0 {
			dash.selected--
		}
	case "down", "j":
		if dash.selected < len(dash.rooms)-1 {
			dash.selected++
		}
	case "t":
		dash.newRoomType = dash.newRoomType.Toggle()
	case "c":
		return dash.createRoom()
	case "r":
		return dash.fetchRooms()
	case "enter":
		return dash.loadHistory()
	case "d":
		if _, ok := dash.selectedRoom(); ok {
			dash.confirmDelete = true
		}
	case "l":
		return dash.onLogout()
	}
	return nil
}

func (dash *dashboardModel) fetchRooms() tea.Cmd {
	session, token, api := dash.session, dash.token, dash.api
	dash.loading = true
	dash.err = ""
	timeout := dash.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		rooms, err := api.ListRooms(ctx, token)
		return roomsLoadedMsg{session: session, rooms: rooms, err: err}
	}
}

func (dash *dashboardModel) createRoom() tea.Cmd {
	session, token, api, tipo := dash.session, dash.token, dash.api, dash.newRoomType
	dash.loading = true
	dash.err = ""
	dash.notice = ""
	timeout := dash.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		room, err := api.CreateRoom(ctx, token, tipo)
		return roomCreatedMsg{session: session, room: room, err: err}
	}
}

func (dash *dashboardModel) loadHistory() tea.Cmd {
	room, ok := dash.selectedRoom()
	if !ok {
		return nil
	}
	session, token, api := dash.session, dash.token, dash.api
	dash.loading = true
	dash.err = ""
	timeout := dash.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		history, err := api.RoomHistory(ctx, token, room.IDSala)
		return historyLoadedMsg{session: session, room: history, err: err}
	}
}

func (dash *dashboardModel) deleteSelected() tea.Cmd {
	room, ok := dash.selectedRoom()
	if !ok {
		return nil
	}
	session, token, api := dash.session, dash.token, dash.api
	dash.loading = true
	dash.err = ""
	dash.notice = ""
	timeout := dash.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := api.DeleteRoom(ctx, token, room.IDSala)
		return roomDeletedMsg{session: session, roomID: room.IDSala, err: err}
	}
}
