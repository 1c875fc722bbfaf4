package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAPIClient(server.URL, time.Second, zerolog.Nop())
}

func TestAdminLoginSendsCredentials(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/admin-login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body loginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Usuario != "admin" || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Credenciales inválidas"}`))
			return
		}
		_, _ = w.Write([]byte(`{"mensaje":"Login exitoso","token":"tok-1"}`))
	})

	token, err := api.AdminLogin(context.Background(), "admin", "secret")
	if err != nil {
		t.Fatalf("AdminLogin: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("unexpected token %q", token)
	}

	_, err = api.AdminLogin(context.Background(), "admin", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "Credenciales inválidas" {
		t.Fatalf("unexpected APIError %+v", apiErr)
	}
	if !errors.Is(err, errUnauthorized) {
		t.Fatalf("401 should match errUnauthorized")
	}
	if got := errorMessage(err, "Error de conexión."); got != "Credenciales inválidas" {
		t.Fatalf("errorMessage = %q", got)
	}
}

func TestAdminEndpointsCarryBearerToken(t *testing.T) {
	var seen []string
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("%s %s: Authorization = %q", r.Method, r.URL.Path, got)
		}
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/crear-sala":
			var body createRoomRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(CreatedRoom{IDSala: "ABC123", PIN: "4821", Tipo: body.Tipo})
		case r.Method == http.MethodGet && r.URL.Path == "/api/admin/salas":
			_, _ = w.Write([]byte(`[{"id_sala":"ABC123","pin":"4821","tipo":"Multimedia","usuarios_conectados":["ana"]}]`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/admin/sala/ABC123":
			_, _ = w.Write([]byte(`{"id_sala":"ABC123","pin":"4821","tipo":"Multimedia","usuarios_conectados":[],"mensajes":[{"nickname":"ana","tipo":"texto","contenido":"hola"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/admin/sala/ABC123":
			_, _ = w.Write([]byte(`{"mensaje":"Sala ABC123 eliminada exitosamente"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	created, err := api.CreateRoom(ctx, "tok", RoomTypeMultimedia)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if created.PIN != "4821" || created.Tipo != RoomTypeMultimedia {
		t.Fatalf("unexpected created room %+v", created)
	}

	rooms, err := api.ListRooms(ctx, "tok")
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].IDSala != "ABC123" || len(rooms[0].UsuariosConectados) != 1 {
		t.Fatalf("unexpected rooms %+v", rooms)
	}

	room, err := api.RoomHistory(ctx, "tok", "ABC123")
	if err != nil {
		t.Fatalf("RoomHistory: %v", err)
	}
	if len(room.Mensajes) != 1 || room.Mensajes[0].Contenido != "hola" {
		t.Fatalf("unexpected history %+v", room)
	}

	if err := api.DeleteRoom(ctx, "tok", "ABC123"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 requests, got %v", seen)
	}
}

func TestErrorWithoutServerMessageUsesFallback(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	_, err := api.ListRooms(context.Background(), "tok")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "" {
		t.Fatalf("expected APIError without message, got %v", err)
	}
	if got := errorMessage(err, "Error al cargar lista de salas."); got != "Error al cargar lista de salas." {
		t.Fatalf("errorMessage = %q", got)
	}
}

func TestTransportFailureUsesFallback(t *testing.T) {
	api := NewAPIClient("http://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())
	_, err := api.AdminLogin(context.Background(), "a", "b")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if got := errorMessage(err, "Error de conexión."); got != "Error de conexión." {
		t.Fatalf("errorMessage = %q", got)
	}
}

func TestUploadPostsMultipartWithSocketID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foto.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("socket_id"); got != "sid-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"No autorizado. Sesión de Socket no válida."}`))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "foto.png" || string(data) != "png-bytes" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"mensaje":"Archivo subido exitosamente","url":"/uploads/u_foto.png"}`))
	})

	result, err := api.Upload(context.Background(), path, "sid-1")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.URL != "/uploads/u_foto.png" {
		t.Fatalf("unexpected result %+v", result)
	}

	_, err = api.Upload(context.Background(), path, "other")
	if got := errorMessage(err, "Error desconocido"); got != "No autorizado. Sesión de Socket no válida." {
		t.Fatalf("errorMessage = %q", got)
	}

	if _, err := api.Upload(context.Background(), filepath.Join(dir, "missing.txt"), "sid-1"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
