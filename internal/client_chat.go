package internal

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"salachat/internal/socketio"
)

const (
	leaveCommand     = "/salir"
	msgUploadUnknown = "Error desconocido"

	// rows taken by header, status, roster and input around the scrollback
	chatChromeHeight = 12
)

type uploadFinishedMsg struct {
	err error
}

// chatModel is a joined room: scrollback, roster, composer and uploads.
type chatModel struct {
	chat    *ChatContext
	channel Channel
	sub     *socketio.Subscription

	input    textinput.Model
	viewport viewport.Model
	browser  *fileBrowser
	width    int

	uploading bool
	uploadErr string
	connErr   string

	api     *APIClient
	timeout time.Duration

	onLeave func() tea.Cmd
}

func newChatModel(chat *ChatContext, channel Channel, sub *socketio.Subscription, api *APIClient, timeout time.Duration) *chatModel {
	input := textinput.New()
	input.Placeholder = "Escribe un mensaje…"
	input.Prompt = "> "
	input.CharLimit = 0

	return &chatModel{
		chat:     chat,
		channel:  channel,
		sub:      sub,
		input:    input,
		viewport: viewport.New(80, 10),
		api:      api,
		timeout:  timeout,
	}
}

func (c *chatModel) activate(width, height int) tea.Cmd {
	c.resize(width, height)
	c.refresh()
	return c.input.Focus()
}

// detach releases the chat subscription.
func (c *chatModel) detach() {
	c.sub.Close()
	c.sub = nil
	c.browser = nil
	c.input.Blur()
}

func (c *chatModel) channelLost(err error) {
	c.sub.Close()
	c.sub = nil
	c.channel = nil
	c.connErr = connectionLostText(err)
}

func (c *chatModel) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.width = width
	c.viewport.Width = max(width-rosterWidth-6, 20)
	c.viewport.Height = max(height-chatChromeHeight, 3)
	c.refresh()
}

// refresh re-renders the scrollback and pins it to the newest message.
func (c *chatModel) refresh() {
	c.viewport.SetContent(renderHistory(c.chat, c.api.BaseURL(), c.viewport.Width))
	c.viewport.GotoBottom()
}

func (c *chatModel) live() bool {
	if c.channel == nil {
		return false
	}
	select {
	case <-c.channel.Done():
		return false
	default:
		return true
	}
}

func (c *chatModel) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case newMessageMsg:
		c.chat.History = append(c.chat.History, msg.message)
		c.refresh()
		return nil

	case rosterMsg:
		c.chat.Users = msg.users
		return nil

	case uploadFinishedMsg:
		c.uploading = false
		if msg.err != nil {
			c.uploadErr = "Fallo al subir: " + errorMessage(msg.err, msgUploadUnknown)
			return nil
		}
		c.uploadErr = ""
		return nil

	case tea.WindowSizeMsg:
		c.resize(msg.Width, msg.Height)
		return nil

	case tea.KeyMsg:
		if c.browser != nil {
			return c.handleBrowserKey(msg)
		}
		return c.handleKey(msg)
	}
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return cmd
}

func (c *chatModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		return c.onLeave()
	case tea.KeyCtrlU:
		if c.chat.RoomType.AllowsUploads() && !c.uploading {
			c.browser = newFileBrowser("")
		}
		return nil
	case tea.KeyEnter:
		return c.send()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		c.viewport, cmd = c.viewport.Update(msg)
		return cmd
	}
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return cmd
}

func (c *chatModel) send() tea.Cmd {
	text := c.input.Value()
	if strings.TrimSpace(text) == leaveCommand {
		return c.onLeave()
	}
	if strings.TrimSpace(text) == "" || !c.live() {
		return nil
	}
	if err := c.channel.Emit(eventSendMessage, sendMessagePayload{Contenido: text}); err != nil {
		c.connErr = connectionLostText(err)
		return nil
	}
	c.input.SetValue("")
	return nil
}

func (c *chatModel) handleBrowserKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc", "ctrl+u":
		c.browser = nil
	case "up", "k":
		c.browser.move(-1)
	case "down", "j":
		c.browser.move(1)
	case "backspace", "left", "h":
		c.browser.open(filepath.Dir(c.browser.dir))
	case "enter":
		if path, ok := c.browser.choose(); ok {
			c.browser = nil
			return c.upload(path)
		}
	}
	return nil
}

// upload posts the file; the room learns about it through new_message.
func (c *chatModel) upload(path string) tea.Cmd {
	if c.uploading {
		return nil
	}
	socketID := ""
	if c.channel != nil {
		socketID = c.channel.ID()
	}
	c.uploading = true
	c.uploadErr = ""
	api, timeout := c.api, c.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, err := api.Upload(ctx, path, socketID)
		return uploadFinishedMsg{err: err}
	}
}

func connectionLostText(err error) string {
	if err == nil {
		return "Conexión perdida."
	}
	return "Conexión perdida: " + err.Error()
}
