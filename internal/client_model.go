package internal

import (
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

const (
	defaultJoinTimeout = 15 * time.Second
	quitGrace          = 2 * time.Second
)

type appView int

const (
	viewHome appView = iota
	viewAdminLogin
	viewAdminDashboard
	viewChat
)

func (v appView) String() string {
	switch v {
	case viewHome:
		return "home"
	case viewAdminLogin:
		return "admin-login"
	case viewAdminDashboard:
		return "admin-dashboard"
	case viewChat:
		return "chat"
	}
	return "unknown"
}

// AppState is everything the shell owns: the active view, the realtime
// channel, the admin session and the joined chat.
type AppState struct {
	View       appView
	Channel    Channel
	AdminToken string
	AdminUser  string
	Chat       *ChatContext
}

// ClientOptions configures the TUI client.
type ClientOptions struct {
	ServerURL      string
	AdminUser      string
	JoinTimeout    time.Duration
	RequestTimeout time.Duration
	Logger         zerolog.Logger
	// Dial defaults to the Socket.IO dialer.
	Dial DialFunc
}

// tui model struct: the shell plus one component per view
type TUIModel struct {
	app     *AppState
	options ClientOptions
	api     *APIClient
	bridge  *eventBridge
	logger  zerolog.Logger

	spinner  spinner.Model
	spinning bool
	width    int
	height   int

	home       *homeModel
	adminLogin *adminLoginModel
	dashboard  *dashboardModel
	chat       *chatModel

	dialing    bool
	generation int
	channelErr error
}

func NewTUIModel(options ClientOptions) *TUIModel {
	if options.JoinTimeout <= 0 {
		options.JoinTimeout = defaultJoinTimeout
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	if options.Dial == nil {
		options.Dial = socketDialer(options.Logger.With().Str("component", "socketio").Logger())
	}

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))

	model := &TUIModel{
		app:     &AppState{View: viewHome},
		options: options,
		api:     NewAPIClient(options.ServerURL, options.RequestTimeout, options.Logger),
		bridge:  newEventBridge(),
		logger:  options.Logger,
		spinner: spin,
	}
	model.resetComponents()
	return model
}

// resetComponents builds every view component from scratch.
func (model *TUIModel) resetComponents() {
	model.home = newHomeModel(model.options.JoinTimeout)
	model.home.onJoinSuccess = model.handleJoinSuccess
	model.home.onAdmin = func() tea.Cmd { return model.switchView(viewAdminLogin) }
	model.home.onAbandon = model.resetChannel

	model.adminLogin = newAdminLoginModel(model.api, model.options.RequestTimeout, model.options.AdminUser)
	model.adminLogin.onLoginSuccess = model.handleLoginSuccess
	model.adminLogin.onBack = func() tea.Cmd { return model.switchView(viewHome) }

	model.dashboard = newDashboardModel(model.api, model.options.RequestTimeout)
	model.dashboard.onLogout = model.handleLogout

	model.chat = nil
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(model.bridge.listen(), model.dialCmd(), model.home.focusCmd())
}

// busy reports whether the active view waits on the server.
func (model *TUIModel) busy() bool {
	switch model.app.View {
	case viewHome:
		return model.home.loading
	case viewAdminLogin:
		return model.adminLogin.loading
	case viewAdminDashboard:
		return model.dashboard.loading
	case viewChat:
		return model.chat != nil && model.chat.uploading
	}
	return false
}

func (model *TUIModel) handleJoinSuccess(nickname, pin string, roomType RoomType, history []Message, users []string) tea.Cmd {
	chatSub := model.home.claimChatSubscription()
	model.app.Chat = &ChatContext{
		Nickname: nickname,
		PIN:      pin,
		RoomType: roomType,
		History:  append([]Message(nil), history...),
		Users:    append([]string(nil), users...),
	}
	model.chat = newChatModel(model.app.Chat, model.app.Channel, chatSub, model.api, model.options.RequestTimeout)
	model.chat.onLeave = model.handleLeave
	model.logger.Info().Str("pin", pin).Str("nickname", nickname).Str("tipo", string(roomType)).Msg("joined room")
	return model.switchView(viewChat)
}

func (model *TUIModel) handleLoginSuccess(token, usuario string) tea.Cmd {
	model.app.AdminToken = token
	model.app.AdminUser = usuario
	model.logger.Info().Str("usuario", usuario).Msg("admin logged in")
	return model.switchView(viewAdminDashboard)
}

func (model *TUIModel) handleLogout() tea.Cmd {
	model.app.AdminToken = ""
	model.app.AdminUser = ""
	return model.switchView(viewHome)
}

// handleLeave resets the whole client: the chat subscription and the
// channel are released and every component starts over on Home.
func (model *TUIModel) handleLeave() tea.Cmd {
	model.leaveView(model.app.View)
	if model.app.Channel != nil {
		_ = model.app.Channel.Close()
	}
	model.app = &AppState{View: viewHome}
	model.channelErr = nil
	model.resetComponents()
	model.logger.Info().Msg("left room")
	return tea.Batch(model.home.focusCmd(), model.dialCmd())
}

// resetChannel drops the current channel and dials a new one, so the
// server forgets a join that was abandoned.
func (model *TUIModel) resetChannel() tea.Cmd {
	model.home.detach()
	if model.app.Channel != nil {
		_ = model.app.Channel.Close()
		model.app.Channel = nil
	}
	return model.dialCmd()
}

func (model *TUIModel) switchView(next appView) tea.Cmd {
	model.leaveView(model.app.View)
	model.app.View = next
	return model.enterView(next)
}

func (model *TUIModel) leaveView(view appView) {
	switch view {
	case viewHome:
		model.home.detach()
	case viewAdminLogin:
		model.adminLogin.deactivate()
	case viewAdminDashboard:
		model.dashboard.deactivate()
	case viewChat:
		if model.chat != nil {
			model.chat.detach()
		}
	}
}

func (model *TUIModel) enterView(view appView) tea.Cmd {
	switch view {
	case viewHome:
		model.home.attach(model.app.Channel, model.bridge)
		return model.home.focusCmd()
	case viewAdminLogin:
		return model.adminLogin.activate()
	case viewAdminDashboard:
		return model.dashboard.activate(model.app.AdminToken)
	case viewChat:
		return model.chat.activate(model.width, model.height)
	}
	return nil
}

// quit releases the channel and exits once it has said goodbye, or after
// quitGrace when the server is unreachable.
func (model *TUIModel) quit() tea.Cmd {
	model.leaveView(model.app.View)
	model.bridge.close()
	channel := model.app.Channel
	if channel == nil {
		return tea.Quit
	}
	_ = channel.Close()
	model.app.Channel = nil
	return func() tea.Msg {
		select {
		case <-channel.Done():
		case <-time.After(quitGrace):
		}
		return tea.QuitMsg{}
	}
}

// entry for bubbletea
func RunClient(options ClientOptions) error {
	if options.ServerURL == "" {
		return errors.New("server URL is required")
	}
	program := tea.NewProgram(NewTUIModel(options))
	_, err := program.Run()
	return err
}
