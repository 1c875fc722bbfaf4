package internal

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	// a future poke that nudges Update to dial again
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// dialCmd opens a new channel. Results from an older dial are recognised by
// their generation and discarded.
func (model *TUIModel) dialCmd() tea.Cmd {
	model.dialing = true
	model.generation++
	generation := model.generation
	dial := model.options.Dial
	serverURL := model.options.ServerURL
	timeout := model.options.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		channel, err := dial(ctx, serverURL)
		if err != nil {
			return channelFailedMsg{err: err, generation: generation}
		}
		return channelReadyMsg{channel: channel, generation: generation}
	}
}

// watchCmd reports when channel goes away.
func watchCmd(channel Channel) tea.Cmd {
	return func() tea.Msg {
		<-channel.Done()
		return channelClosedMsg{channel: channel, err: channel.Err()}
	}
}
