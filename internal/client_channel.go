package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"salachat/internal/socketio"
)

// Channel is the realtime connection as the TUI sees it. *socketio.Client
// satisfies it; tests substitute a fake.
type Channel interface {
	ID() string
	Emit(event string, args ...any) error
	On(event string, handler socketio.Handler) func()
	Close() error
	Done() <-chan struct{}
	Err() error
}

// DialFunc opens a Channel to the backend origin.
type DialFunc func(ctx context.Context, serverURL string) (Channel, error)

func socketDialer(logger zerolog.Logger) DialFunc {
	return func(ctx context.Context, serverURL string) (Channel, error) {
		header := http.Header{}
		header.Set("User-Agent", "salachat/"+Version)
		client, err := socketio.Dial(ctx, serverURL, socketio.WithLogger(logger), socketio.WithHeader(header))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// realtime events and channel lifecycle, as bubbletea messages
type (
	channelReadyMsg struct {
		channel    Channel
		generation int
	}
	channelFailedMsg struct {
		err        error
		generation int
	}
	channelClosedMsg struct {
		channel Channel
		err     error
	}
	reconnectMsg     struct{}
	joinSucceededMsg struct {
		payload chatHistoryPayload
		// chat handlers registered before any later event was dispatched
		chatSub *socketio.Subscription
	}
	joinFailedMsg  struct{ message string }
	joinTimeoutMsg struct{ attempt int }
	newMessageMsg  struct{ message Message }
	rosterMsg      struct{ users []string }

	bridgedMsg struct{ msg tea.Msg }
)

// eventBridge carries messages from socket handlers, which run on the
// channel's read goroutine, into the bubbletea update loop.
type eventBridge struct {
	events chan tea.Msg
	quit   chan struct{}
	once   sync.Once
}

func newEventBridge() *eventBridge {
	return &eventBridge{
		events: make(chan tea.Msg, 128),
		quit:   make(chan struct{}),
	}
}

func (b *eventBridge) post(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.quit:
	}
}

// listen waits for the next bridged message. Update re-arms it after every
// bridgedMsg, the same chain readOnceCmd used to drive.
func (b *eventBridge) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return bridgedMsg{msg: msg}
		case <-b.quit:
			return nil
		}
	}
}

func (b *eventBridge) close() {
	b.once.Do(func() { close(b.quit) })
}

// subscribeJoin registers the join flow handlers. On chat_history the chat
// handlers are registered from inside the handler, so no new_message or
// update_user_list sent right after the history can slip past.
func subscribeJoin(channel Channel, bridge *eventBridge) *socketio.Subscription {
	return socketio.Subscribe(channel, map[string]socketio.Handler{
		eventChatHistory: func(args []json.RawMessage) {
			var payload chatHistoryPayload
			if err := decodeFirstArg(args, &payload); err != nil {
				bridge.post(joinFailedMsg{message: msgNoChannel})
				return
			}
			chatSub := subscribeChat(channel, bridge)
			bridge.post(joinSucceededMsg{payload: payload, chatSub: chatSub})
		},
		eventJoinError: func(args []json.RawMessage) {
			var payload joinErrorPayload
			_ = decodeFirstArg(args, &payload)
			bridge.post(joinFailedMsg{message: payload.Error})
		},
	})
}

func subscribeChat(channel Channel, bridge *eventBridge) *socketio.Subscription {
	return socketio.Subscribe(channel, map[string]socketio.Handler{
		eventNewMessage: func(args []json.RawMessage) {
			var msg Message
			if err := decodeFirstArg(args, &msg); err != nil {
				return
			}
			bridge.post(newMessageMsg{message: msg})
		},
		eventUpdateUserList: func(args []json.RawMessage) {
			var users []string
			if err := decodeFirstArg(args, &users); err != nil {
				return
			}
			bridge.post(rosterMsg{users: users})
		},
	})
}

func (model *TUIModel) handleChannel(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case channelReadyMsg:
		if msg.generation != model.generation || model.app.Channel != nil {
			_ = msg.channel.Close()
			return nil
		}
		model.dialing = false
		model.channelErr = nil
		model.app.Channel = msg.channel
		model.logger.Info().Str("sid", msg.channel.ID()).Msg("channel ready")
		if model.app.View == viewHome {
			model.home.attach(msg.channel, model.bridge)
		}
		return watchCmd(msg.channel)

	case channelFailedMsg:
		if msg.generation != model.generation {
			return nil
		}
		model.dialing = false
		model.channelErr = msg.err
		model.logger.Warn().Err(msg.err).Msg("channel dial failed")
		return model.scheduleReconnect()

	case channelClosedMsg:
		if msg.channel != model.app.Channel {
			return nil
		}
		model.app.Channel = nil
		model.channelErr = msg.err
		model.logger.Warn().Err(msg.err).Msg("channel lost")
		switch model.app.View {
		case viewHome:
			model.home.channelLost(msg.err)
			return model.dialCmd()
		case viewAdminLogin, viewAdminDashboard:
			return model.dialCmd()
		case viewChat:
			model.chat.channelLost(msg.err)
			return nil
		}
		return nil

	case reconnectMsg:
		if model.app.Channel != nil || model.dialing {
			return nil
		}
		return model.dialCmd()
	}
	return nil
}
