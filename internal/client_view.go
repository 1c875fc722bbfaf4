package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const rosterWidth = 28

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	modalBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("213")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	successStyle       = statusStyle.Copy().Foreground(lipgloss.Color("42"))
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	rosterBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1).Width(rosterWidth)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Underline(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	selectedItemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	listItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model TUIModel) View() string {
	switch model.app.View {
	case viewHome:
		return model.renderHomeView()
	case viewAdminLogin:
		return model.renderAdminLoginView()
	case viewAdminDashboard:
		return model.renderDashboardView()
	case viewChat:
		return model.renderChatView()
	}
	return ""
}

func (model TUIModel) renderHomeView() string {
	home := model.home
	title := appTitleStyle.Render("Sala de Chat")
	subtitle := subtitleStyle.Render("Únete a una sala con su PIN de 4 números")

	sections := []string{lipgloss.JoinVertical(lipgloss.Left, title, subtitle)}
	sections = append(sections, model.renderChannelStatus())

	var field string
	if home.step == stepPIN {
		field = home.pinInput.View()
	} else {
		field = lipgloss.JoinVertical(lipgloss.Left,
			timestampStyle.Render("PIN "+home.pinInput.Value()),
			home.nicknameInput.View(),
		)
	}
	sections = append(sections, inputBoxStyle.Render(field))

	if home.loading {
		sections = append(sections, connectingStyle.Render(model.spinner.View()+" Uniéndose a la sala…"))
	}
	if home.err != "" {
		sections = append(sections, errorStyle.Render(home.err))
	}

	hint := "Enter) Continuar  •  Ctrl+A) Administración  •  Ctrl+C) Salir"
	if home.step == stepNickname {
		hint = "Enter) Entrar  •  Esc) Cambiar PIN  •  Ctrl+A) Administración  •  Ctrl+C) Salir"
	}
	sections = append(sections, menuHintStyle.Render(hint))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model TUIModel) renderChannelStatus() string {
	switch {
	case model.app.Channel != nil:
		return connectedStyle.Render("Conectado a " + model.options.ServerURL)
	case model.channelErr != nil && !model.dialing:
		return errorStyle.Render("Sin conexión: " + model.channelErr.Error())
	default:
		return connectingStyle.Render("Conectando a " + model.options.ServerURL + "…")
	}
}

func (model TUIModel) renderAdminLoginView() string {
	login := model.adminLogin
	sections := []string{
		appTitleStyle.Render("Administración"),
		subtitleStyle.Render("Inicia sesión como administrador"),
		inputBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, login.usuarioInput.View(), login.passwordInput.View())),
	}
	if login.loading {
		sections = append(sections, connectingStyle.Render(model.spinner.View()+" Iniciando sesión…"))
	}
	if login.err != "" {
		sections = append(sections, errorStyle.Render(login.err))
	}
	sections = append(sections, menuHintStyle.Render("Tab) Cambiar campo  •  Enter) Entrar  •  Esc) Volver"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model TUIModel) renderDashboardView() string {
	dash := model.dashboard
	if dash.history != nil {
		return renderHistoryModal(*dash.history)
	}

	title := appTitleStyle.Render("Panel de Administración")
	subtitle := subtitleStyle.Render(fmt.Sprintf("Sesión: %s  |  Salas: %d", model.app.AdminUser, len(dash.rooms)))
	sections := []string{title, subtitle}

	var lines []string
	for i, room := range dash.rooms {
		line := fmt.Sprintf("%s  PIN %s  %-10s  %d conectados", room.IDSala, room.PIN, room.Tipo, len(room.UsuariosConectados))
		if i == dash.selected {
			lines = append(lines, selectedItemStyle.Render("▸ "+line))
		} else {
			lines = append(lines, listItemStyle.Render("  "+line))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No hay salas."))
	}
	sections = append(sections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	sections = append(sections, renderMenuOption("t", fmt.Sprintf("Tipo de nueva sala: %s", dash.newRoomType)))

	if dash.loading {
		sections = append(sections, connectingStyle.Render(model.spinner.View()+" Procesando…"))
	}
	if dash.confirmDelete {
		if room, ok := dash.selectedRoom(); ok {
			sections = append(sections, errorStyle.Render(fmt.Sprintf("¿Eliminar la sala %s (PIN %s)? s) Confirmar  •  cualquier otra tecla) Cancelar", room.IDSala, room.PIN)))
		}
	}
	if dash.notice != "" {
		sections = append(sections, successStyle.Render(dash.notice))
	}
	if dash.err != "" {
		sections = append(sections, errorStyle.Render(dash.err))
	}

	sections = append(sections, menuHintStyle.Render("t) Tipo  •  c) Crear  •  r) Recargar  •  Enter) Historial  •  d) Eliminar  •  l) Cerrar sesión"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderHistoryModal(room Room) string {
	title := appTitleStyle.Render(fmt.Sprintf("Historial de la sala %s (PIN %s)", room.IDSala, room.PIN))

	var lines []string
	for _, msg := range room.Mensajes {
		lines = append(lines, renderHistoryLine(msg))
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("No hay mensajes en esta sala."))
	}

	body := modalBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.JoinVertical(lipgloss.Left, title, body, menuHintStyle.Render("Esc) Cerrar"))
}

func renderHistoryLine(msg Message) string {
	var prefix string
	if stamp := formatTimestamp(msg.Timestamp); stamp != "" {
		prefix = timestampStyle.Render("["+stamp+"]") + " "
	}
	content := msg.Contenido
	if msg.IsFile() {
		content = "[Archivo] " + msg.NombreArchivo
	}
	if msg.IsSystem() {
		return prefix + systemMessageStyle.Render(content)
	}
	return prefix + usernameStyle.Render(msg.Nickname) + ": " + messageBodyStyle.Render(content)
}

func (model TUIModel) renderChatView() string {
	chat := model.chat
	header := chatHeaderStyle.Render(fmt.Sprintf("Sala de Chat (PIN: %s) - Tipo: %s", chat.chat.PIN, chat.chat.RoomType) + dividerStyle + chat.chat.Nickname)

	sections := []string{header}
	if chat.connErr != "" {
		sections = append(sections, errorStyle.Render(chat.connErr))
	}

	if chat.browser != nil {
		sections = append(sections, renderFileBrowser(chat.browser))
		return lipgloss.JoinVertical(lipgloss.Left, sections...)
	}

	messages := messageBoxStyle.Render(chat.viewport.View())
	roster := rosterBoxStyle.Render(renderRoster(chat.chat))
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, messages, " ", roster))

	if chat.uploading {
		sections = append(sections, connectingStyle.Render(model.spinner.View()+" Subiendo archivo…"))
	}
	if chat.uploadErr != "" {
		sections = append(sections, errorStyle.Render(chat.uploadErr))
	}

	sections = append(sections, inputBoxStyle.Render(chat.input.View()))
	hint := "Enter) Enviar  •  PgUp/PgDn) Desplazar  •  Esc o /salir) Salir de la sala"
	if chat.chat.RoomType.AllowsUploads() {
		hint = "Enter) Enviar  •  Ctrl+U) Subir archivo  •  Esc o /salir) Salir de la sala"
	}
	sections = append(sections, menuHintStyle.Render(hint))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderRoster(chat *ChatContext) string {
	lines := []string{usernameStyle.Render(fmt.Sprintf("Usuarios Conectados (%d)", len(chat.Users)))}
	for _, user := range chat.Users {
		if user == chat.Nickname {
			lines = append(lines, activeUserStyle.Render(user+" (Tú)"))
			continue
		}
		lines = append(lines, usernameStyle.Copy().Foreground(colorForUser(user)).Render(user))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderHistory renders the scrollback content of a chat session.
func renderHistory(chat *ChatContext, origin string, width int) string {
	if len(chat.History) == 0 {
		return systemMessageStyle.Render("No hay mensajes todavía. ¡Saluda!")
	}
	lines := make([]string, 0, len(chat.History))
	for _, msg := range chat.History {
		lines = append(lines, renderChatMessage(msg, chat.Nickname, origin, width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderChatMessage renders a single log line. System notices are centered,
// our own messages sit on the right and everyone else on the left.
func renderChatMessage(msg Message, nickname, origin string, width int) string {
	if msg.IsSystem() {
		return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(systemMessageStyle.Render(msg.Contenido))
	}

	mine := msg.Nickname == nickname
	nameStyle := usernameStyle.Copy().Foreground(colorForUser(msg.Nickname))
	if mine {
		nameStyle = activeUserStyle
	}

	var body string
	if msg.IsFile() {
		body = renderAttachment(msg, origin)
	} else {
		body = messageBodyStyle.Render(strings.ReplaceAll(msg.Contenido, "\n", "\n   "))
	}

	line := nameStyle.Render(msg.Nickname) + ": " + body
	if stamp := formatTimestamp(msg.Timestamp); stamp != "" {
		line = timestampStyle.Render("["+stamp+"]") + " " + line
	}

	align := lipgloss.Left
	if mine {
		align = lipgloss.Right
	}
	return lipgloss.NewStyle().Width(width).Align(align).Render(line)
}

func renderAttachment(msg Message, origin string) string {
	link := attachmentStyle.Render(AttachmentURL(origin, msg.URL))
	switch ClassifyAttachment(msg.NombreArchivo) {
	case AttachmentImage:
		return lipgloss.JoinVertical(lipgloss.Left, messageBodyStyle.Render("[Imagen] "+msg.NombreArchivo), link)
	default:
		return lipgloss.JoinVertical(lipgloss.Left, messageBodyStyle.Render("[Archivo] "+msg.NombreArchivo), link)
	}
}

func renderFileBrowser(browser *fileBrowser) string {
	title := appTitleStyle.Render("Subir archivo")
	subtitle := subtitleStyle.Render(browser.dir)

	var lines []string
	for i, item := range browser.items {
		label := item.Name
		if item.IsDir {
			label += "/"
		} else {
			label = fmt.Sprintf("%s  (%s)", label, formatFileSize(item.Size))
		}
		if i == browser.selected {
			lines = append(lines, selectedItemStyle.Render("▸ "+label))
		} else {
			lines = append(lines, listItemStyle.Render("  "+label))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, systemMessageStyle.Render("Carpeta vacía."))
	}

	sections := []string{title, subtitle, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))}
	if browser.err != "" {
		sections = append(sections, errorStyle.Render(browser.err))
	}
	sections = append(sections, menuHintStyle.Render("Enter) Abrir o subir  •  Backspace) Subir de carpeta  •  Esc) Cancelar"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

// formatTimestamp shows the clock part of a server timestamp, or "" when it
// does not parse.
func formatTimestamp(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Local().Format("15:04")
		}
	}
	return ""
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
