package internal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

func runCmd(t *testing.T, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	return cmd()
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestAdminLoginModel(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{})
	login := newAdminLoginModel(backend.api, 2*time.Second, "admin")

	var gotToken, gotUser string
	login.onLoginSuccess = func(token, usuario string) tea.Cmd {
		gotToken, gotUser = token, usuario
		return nil
	}
	login.activate()
	if login.focus != 1 {
		t.Fatalf("a prefilled usuario should focus the password")
	}

	login.update(runeKey("nope"))
	msg := runCmd(t, login.update(tea.KeyMsg{Type: tea.KeyEnter}))
	if !login.loading {
		t.Fatalf("submit should be loading")
	}
	login.update(msg)
	if login.err != "Credenciales inválidas" || gotToken != "" {
		t.Fatalf("bad password: err %q token %q", login.err, gotToken)
	}

	login.passwordInput.SetValue("secret")
	login.update(runCmd(t, login.update(tea.KeyMsg{Type: tea.KeyEnter})))
	if gotToken == "" || gotUser != "admin" || login.err != "" {
		t.Fatalf("login: token %q user %q err %q", gotToken, gotUser, login.err)
	}
}

func TestAdminLoginConnectionError(t *testing.T) {
	dead := httptest.NewServer(nil)
	dead.Close()
	login := newAdminLoginModel(NewAPIClient(dead.URL, time.Second, zerolog.Nop()), time.Second, "admin")
	login.onLoginSuccess = func(string, string) tea.Cmd {
		t.Fatalf("login must not succeed")
		return nil
	}
	login.activate()
	login.update(runCmd(t, login.submit()))
	if login.err != msgConnectionError {
		t.Fatalf("unexpected error %q", login.err)
	}
}

func TestDashboardActions(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{})
	token, err := backend.api.AdminLogin(context.Background(), "admin", "secret")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	dash := newDashboardModel(backend.api, 2*time.Second)

	dash.update(runCmd(t, dash.activate(token)))
	if dash.loading || len(dash.rooms) != 0 || dash.err != "" {
		t.Fatalf("initial list: loading %v rooms %d err %q", dash.loading, len(dash.rooms), dash.err)
	}

	dash.update(runeKey("t"))
	if dash.newRoomType != RoomTypeMultimedia {
		t.Fatalf("t should toggle the room type")
	}
	refetch := dash.update(runCmd(t, dash.update(runeKey("c"))))
	if !strings.Contains(dash.notice, "PIN") || !dash.loading {
		t.Fatalf("create: notice %q loading %v", dash.notice, dash.loading)
	}
	dash.update(runCmd(t, refetch))
	if len(dash.rooms) != 1 || dash.rooms[0].Tipo != RoomTypeMultimedia {
		t.Fatalf("unexpected rooms %+v", dash.rooms)
	}
	if !strings.Contains(dash.notice, dash.rooms[0].PIN) {
		t.Fatalf("notice %q should carry the issued PIN", dash.notice)
	}

	dash.update(runCmd(t, dash.update(tea.KeyMsg{Type: tea.KeyEnter})))
	if dash.history == nil || dash.history.IDSala != dash.rooms[0].IDSala {
		t.Fatalf("history modal not loaded: %+v", dash.history)
	}
	if modal := renderHistoryModal(*dash.history); !strings.Contains(modal, "No hay mensajes en esta sala.") {
		t.Fatalf("empty history text missing:\n%s", modal)
	}
	dash.update(tea.KeyMsg{Type: tea.KeyEsc})
	if dash.history != nil {
		t.Fatalf("esc should discard the modal")
	}

	dash.update(runeKey("d"))
	if !dash.confirmDelete {
		t.Fatalf("d should ask for confirmation")
	}
	if cmd := dash.update(runeKey("x")); cmd != nil || dash.confirmDelete {
		t.Fatalf("any other key cancels the delete")
	}

	dash.update(runeKey("d"))
	refetch = dash.update(runCmd(t, dash.update(runeKey("s"))))
	dash.update(runCmd(t, refetch))
	if len(dash.rooms) != 0 || dash.err != "" {
		t.Fatalf("after delete: rooms %+v err %q", dash.rooms, dash.err)
	}
}

func TestDashboardErrorSlot(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{})
	dash := newDashboardModel(backend.api, 2*time.Second)

	dash.update(runCmd(t, dash.activate("forged")))
	if dash.err != "Token inválido o expirado" {
		t.Fatalf("unexpected error %q", dash.err)
	}

	cmd := dash.update(runeKey("r"))
	if dash.err != "" {
		t.Fatalf("the next action should clear the error slot")
	}
	stale := runCmd(t, cmd)
	dash.deactivate()
	dash.update(stale)
	if dash.err != "" {
		t.Fatalf("results for an old activation are dropped")
	}
}

func TestDashboardFallbackMessages(t *testing.T) {
	dead := httptest.NewServer(nil)
	dead.Close()
	dash := newDashboardModel(NewAPIClient(dead.URL, time.Second, zerolog.Nop()), time.Second)

	dash.update(runCmd(t, dash.activate("tok")))
	if dash.err != msgListRoomsFailed {
		t.Fatalf("list fallback = %q", dash.err)
	}
	dash.update(runCmd(t, dash.update(runeKey("c"))))
	if dash.err != msgCreateFailed {
		t.Fatalf("create fallback = %q", dash.err)
	}

	dash.rooms = []Room{{IDSala: "ROOM01", PIN: "1234", Tipo: RoomTypeText}}
	dash.update(runCmd(t, dash.update(tea.KeyMsg{Type: tea.KeyEnter})))
	if dash.err != msgHistoryFailed {
		t.Fatalf("history fallback = %q", dash.err)
	}
	dash.update(runeKey("d"))
	dash.update(runCmd(t, dash.update(runeKey("s"))))
	if dash.err != msgDeleteFailed {
		t.Fatalf("delete fallback = %q", dash.err)
	}
}

func TestHistoryModalRendersFiles(t *testing.T) {
	modal := renderHistoryModal(Room{
		IDSala: "ROOM01",
		PIN:    "1234",
		Mensajes: []Message{
			{Nickname: "Bob", Tipo: MessageKindFile, NombreArchivo: "informe.pdf", URL: "/uploads/x_informe.pdf"},
			{Nickname: "Ana", Tipo: MessageKindText, Contenido: "hola"},
		},
	})
	for _, want := range []string{"[Archivo] informe.pdf", "Ana", "hola"} {
		if !strings.Contains(modal, want) {
			t.Fatalf("modal missing %q:\n%s", want, modal)
		}
	}
}
