package internal

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update routes shell-level messages itself and hands the rest to the
// component of the active view.
func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	cmd := model.handle(message)
	return model, tea.Batch(cmd, model.ensureSpinner())
}

func (model *TUIModel) handle(message tea.Msg) tea.Cmd {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C quits from every view.
		if typedMessage.Type == tea.KeyCtrlC {
			return model.quit()
		}

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		model.height = typedMessage.Height
		if model.chat != nil {
			model.chat.resize(typedMessage.Width, typedMessage.Height)
		}
		return nil

	case spinner.TickMsg:
		if !model.busy() {
			model.spinning = false
			return nil
		}
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(typedMessage)
		return cmd

	case bridgedMsg:
		return tea.Batch(model.handle(typedMessage.msg), model.bridge.listen())

	case channelReadyMsg, channelFailedMsg, channelClosedMsg, reconnectMsg:
		return model.handleChannel(message)

	case joinSucceededMsg:
		if model.app.View != viewHome {
			typedMessage.chatSub.Close()
			return nil
		}
	}

	return model.routeToView(message)
}

// routeToView delivers message to the active component; results meant for
// another view are dropped.
func (model *TUIModel) routeToView(message tea.Msg) tea.Cmd {
	switch model.app.View {
	case viewHome:
		return model.home.update(message)
	case viewAdminLogin:
		return model.adminLogin.update(message)
	case viewAdminDashboard:
		return model.dashboard.update(message)
	case viewChat:
		if model.chat == nil {
			return nil
		}
		return model.chat.update(message)
	}
	return nil
}

func (model *TUIModel) ensureSpinner() tea.Cmd {
	if model.spinning || !model.busy() {
		return nil
	}
	model.spinning = true
	return model.spinner.Tick
}
