package internal

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"salachat/internal/socketio"
)

type joinStep int

const (
	stepPIN joinStep = iota
	stepNickname
)

// homeModel is the two-step join form: PIN, then nickname.
type homeModel struct {
	pinInput      textinput.Model
	nicknameInput textinput.Model
	step          joinStep
	loading       bool
	err           string

	attempt     int
	joinTimeout time.Duration

	channel Channel
	sub     *socketio.Subscription
	// chat handlers of a successful join, waiting for the shell
	handoff *socketio.Subscription

	onJoinSuccess func(nickname, pin string, roomType RoomType, history []Message, users []string) tea.Cmd
	onAdmin       func() tea.Cmd
	onAbandon     func() tea.Cmd
}

func newHomeModel(joinTimeout time.Duration) *homeModel {
	pin := textinput.New()
	pin.Placeholder = "1234"
	pin.CharLimit = PINLength
	pin.Prompt = "PIN > "

	nickname := textinput.New()
	nickname.Placeholder = "Tu nickname"
	nickname.CharLimit = NicknameMaxLength
	nickname.Prompt = "Nickname > "

	home := &homeModel{
		pinInput:      pin,
		nicknameInput: nickname,
		joinTimeout:   joinTimeout,
	}
	home.pinInput.Focus()
	return home
}

// attach subscribes the join flow to channel. A nil channel leaves the form
// detached; submit then reports that there is no connection.
func (home *homeModel) attach(channel Channel, bridge *eventBridge) {
	home.detach()
	if channel == nil {
		return
	}
	home.channel = channel
	home.sub = subscribeJoin(channel, bridge)
}

func (home *homeModel) detach() {
	home.sub.Close()
	home.sub = nil
	home.handoff.Close()
	home.handoff = nil
	home.channel = nil
}

// claimChatSubscription hands the chat handlers of the last successful join
// to the caller.
func (home *homeModel) claimChatSubscription() *socketio.Subscription {
	sub := home.handoff
	home.handoff = nil
	return sub
}

func (home *homeModel) channelLost(err error) {
	home.detach()
	if home.loading {
		home.loading = false
		home.step = stepPIN
	}
	home.err = connectionLostText(err)
}

func (home *homeModel) focusCmd() tea.Cmd {
	if home.step == stepNickname {
		home.pinInput.Blur()
		return home.nicknameInput.Focus()
	}
	home.nicknameInput.Blur()
	return home.pinInput.Focus()
}

func (home *homeModel) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return home.handleKey(msg)

	case joinSucceededMsg:
		if !home.loading {
			msg.chatSub.Close()
			return nil
		}
		home.loading = false
		home.err = ""
		home.handoff.Close()
		home.handoff = msg.chatSub
		return home.onJoinSuccess(home.nicknameInput.Value(), home.pinInput.Value(), msg.payload.RoomType, msg.payload.History, msg.payload.Users)

	case joinFailedMsg:
		if !home.loading {
			return nil
		}
		home.loading = false
		home.err = msg.message
		home.step = stepPIN
		return home.focusCmd()

	case joinTimeoutMsg:
		if !home.loading || msg.attempt != home.attempt {
			return nil
		}
		home.loading = false
		home.err = msgJoinTimeout
		home.step = stepPIN
		return tea.Batch(home.focusCmd(), home.onAbandon())
	}

	// cursor blink and other input internals
	var cmd tea.Cmd
	if home.step == stepPIN {
		home.pinInput, cmd = home.pinInput.Update(msg)
	} else {
		home.nicknameInput, cmd = home.nicknameInput.Update(msg)
	}
	return cmd
}

func (home *homeModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if home.loading {
		return nil
	}
	switch msg.Type {
	case tea.KeyCtrlA:
		return home.onAdmin()
	case tea.KeyEsc:
		if home.step == stepNickname {
			home.step = stepPIN
			home.err = ""
			return home.focusCmd()
		}
		return nil
	case tea.KeyEnter:
		return home.submit()
	}

	var cmd tea.Cmd
	switch home.step {
	case stepPIN:
		filtered, ok := filterKey(msg, IsPINRune)
		if !ok {
			return nil
		}
		home.pinInput, cmd = home.pinInput.Update(filtered)
	case stepNickname:
		filtered, ok := filterKey(msg, IsNicknameRune)
		if !ok {
			return nil
		}
		home.nicknameInput, cmd = home.nicknameInput.Update(filtered)
	}
	return cmd
}

func (home *homeModel) submit() tea.Cmd {
	switch home.step {
	case stepPIN:
		if err := ValidatePIN(home.pinInput.Value()); err != nil {
			home.err = err.Error()
			return nil
		}
		home.err = ""
		home.step = stepNickname
		return home.focusCmd()

	case stepNickname:
		nickname := home.nicknameInput.Value()
		if err := ValidateNickname(nickname); err != nil {
			home.err = err.Error()
			return nil
		}
		if home.channel == nil {
			home.err = msgNoChannel
			return nil
		}
		err := home.channel.Emit(eventJoinRoom, joinRoomPayload{PIN: home.pinInput.Value(), Nickname: nickname})
		if err != nil {
			home.err = msgNoChannel
			return nil
		}
		home.err = ""
		home.loading = true
		home.attempt++
		attempt := home.attempt
		return tea.Tick(home.joinTimeout, func(time.Time) tea.Msg {
			return joinTimeoutMsg{attempt: attempt}
		})
	}
	return nil
}

// filterKey drops the runes allow rejects from a typed key. Editing keys
// pass through; a key left with no runes is swallowed.
func filterKey(msg tea.KeyMsg, allow func(rune) bool) (tea.KeyMsg, bool) {
	if msg.Type != tea.KeyRunes && msg.Type != tea.KeySpace {
		return msg, true
	}
	runes := msg.Runes
	if msg.Type == tea.KeySpace && len(runes) == 0 {
		runes = []rune{' '}
	}
	kept := filterRunes(runes, allow)
	if len(kept) == 0 {
		return msg, false
	}
	msg.Type = tea.KeyRunes
	msg.Runes = kept
	return msg, true
}
