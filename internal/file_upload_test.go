package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestFileUploadBroadcastsMessage verifies the upload flow end to end: the
// file is stored, announced to the room and downloadable.
func TestFileUploadBroadcastsMessage(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{})
	backend.createRoom(t, "MEDIA1", "4321", RoomTypeMultimedia)

	alice := backend.dial(t)
	alice.join(t, "4321", "Alice")

	content := []byte("\x89PNG fake image")
	path := writeTempFile(t, "foto.png", content)

	result, err := backend.api.Upload(context.Background(), path, alice.client.ID())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(result.URL, "/uploads/") || !strings.HasSuffix(result.URL, "_foto.png") {
		t.Fatalf("unexpected url %q", result.URL)
	}

	announced := alice.nextMessage(t, Message.IsFile)
	if announced.Nickname != "Alice" || announced.NombreArchivo != "foto.png" || announced.URL != result.URL {
		t.Fatalf("unexpected file message %+v", announced)
	}
	if ClassifyAttachment(announced.NombreArchivo) != AttachmentImage {
		t.Fatalf("png should render as image")
	}

	resp, err := http.Get(AttachmentURL(backend.http.URL, announced.URL))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, content) {
		t.Fatalf("download returned %d %q", resp.StatusCode, got)
	}

	room, err := backend.store.GetRoom(context.Background(), "MEDIA1")
	if err != nil || room == nil {
		t.Fatalf("GetRoom: %v", err)
	}
	messages, err := backend.store.ListMessages(context.Background(), "MEDIA1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 1 || messages[0].Kind != MessageKindFile {
		t.Fatalf("file message should be persisted, got %+v", messages)
	}
}

func TestFileUploadRejections(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{MaxUploadSize: 512})
	backend.createRoom(t, "TEXT01", "1111", RoomTypeText)
	backend.createRoom(t, "MEDIA1", "2222", RoomTypeMultimedia)

	texter := backend.dial(t)
	texter.join(t, "1111", "Ana")
	media := backend.dial(t)
	media.join(t, "2222", "Beto")

	small := writeTempFile(t, "nota.txt", []byte("hola"))
	script := writeTempFile(t, "script.sh", []byte("echo hi"))
	large := writeTempFile(t, "grande.txt", bytes.Repeat([]byte("a"), 4096))

	tests := []struct {
		name     string
		path     string
		socketID string
		status   int
		message  string
	}{
		{"unknown socket", small, "nope", http.StatusUnauthorized, errUploadSession.Error()},
		{"text room", small, texter.client.ID(), http.StatusForbidden, errUploadForbidden.Error()},
		{"extension", script, media.client.ID(), http.StatusBadRequest, errUploadType.Error()},
		{"too large", large, media.client.ID(), http.StatusRequestEntityTooLarge, "Error al guardar. ¿Archivo demasiado grande? (Límite 512 B)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := backend.api.Upload(context.Background(), tt.path, tt.socketID)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != tt.status || apiErr.Message != tt.message {
				t.Fatalf("got %d %q, want %d %q", apiErr.Status, apiErr.Message, tt.status, tt.message)
			}
			if got := "Fallo al subir: " + errorMessage(err, msgUploadUnknown); got != "Fallo al subir: "+tt.message {
				t.Fatalf("unexpected ui text %q", got)
			}
		})
	}
}

func TestFileDownloadRejectsTraversal(t *testing.T) {
	backend := newTestBackend(t, ServerOptions{})
	for _, name := range []string{"..%2Fsalachat.db", ".hidden", "missing.txt"} {
		resp, err := http.Get(backend.http.URL + "/uploads/" + name)
		if err != nil {
			t.Fatalf("GET %s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", name, resp.StatusCode)
		}
	}
}

func TestSecureFilename(t *testing.T) {
	tests := map[string]string{
		"foto.png":            "foto.png",
		"../../etc/passwd":    "passwd",
		`C:\docs\informe.pdf`: "informe.pdf",
		"mi archivo.txt":      "mi_archivo.txt",
		"ñandú.jpg":           "and.jpg",
		"...":                 "archivo",
	}
	for input, want := range tests {
		if got := secureFilename(input); got != want {
			t.Errorf("secureFilename(%q) = %q, want %q", input, got, want)
		}
	}
}
