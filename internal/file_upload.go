package internal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var allowedUploadExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"pdf":  {},
	"txt":  {},
}

var (
	errUploadSession   = errors.New("No autorizado. Sesión de Socket no válida.")
	errUploadForbidden = errors.New("No se permiten archivos en esta sala.")
	errUploadMissing   = errors.New("No se envió ningún archivo.")
	errUploadEmptyName = errors.New("Nombre de archivo vacío.")
	errUploadType      = errors.New("Tipo de archivo no permitido.")
	errFileNotFound    = errors.New("Archivo no encontrado")
)

// HandleFileUpload stores a file posted from a Multimedia room and announces
// it to the room as an archivo message.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > s.maxUpload {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("Error al guardar. ¿Archivo demasiado grande? (Límite %s)", formatFileSize(s.maxUpload)))
			return
		}
		writeError(w, http.StatusBadRequest, errUploadMissing)
		return
	}
	defer r.MultipartForm.RemoveAll()

	session, ok := s.hub.Session(r.FormValue("socket_id"))
	if !ok {
		writeError(w, http.StatusUnauthorized, errUploadSession)
		return
	}
	room, err := s.store.GetRoom(r.Context(), session.roomID)
	if err != nil {
		s.internalError(w, "get room", err)
		return
	}
	if room == nil || !RoomType(room.Type).AllowsUploads() {
		writeError(w, http.StatusForbidden, errUploadForbidden)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errUploadMissing)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, errUploadEmptyName)
		return
	}
	if _, allowed := allowedUploadExtensions[fileExtension(header.Filename)]; !allowed {
		writeError(w, http.StatusBadRequest, errUploadType)
		return
	}

	originalName := secureFilename(header.Filename)
	storedName := fmt.Sprintf("%s_%s", uuid.NewString(), originalName)
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.internalError(w, "create upload dir", err)
		return
	}
	storagePath := filepath.Join(s.uploadDir, storedName)
	written, err := saveUpload(storagePath, file)
	if err != nil {
		s.logger.Error().Err(err).Str("file", storedName).Msg("save upload")
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("Error al guardar. ¿Archivo demasiado grande? (Límite %s)", formatFileSize(s.maxUpload)))
		return
	}

	fileURL := "/uploads/" + storedName
	msg := Message{
		Nickname:      session.nickname,
		Tipo:          MessageKindFile,
		Contenido:     "subió el archivo: " + originalName,
		NombreArchivo: originalName,
		URL:           fileURL,
		Timestamp:     s.timestamp(),
	}
	if err := s.persistMessage(session.roomID, msg); err != nil {
		_ = os.Remove(storagePath)
		s.internalError(w, "store file message", err)
		return
	}
	_ = s.sockets.To(session.roomID).Emit(eventNewMessage, msg)
	s.metrics.IncUpload()
	s.logger.Info().Str("room", session.roomID).Str("file", storedName).Int64("bytes", written).Msg("file uploaded")

	writeJSON(w, http.StatusCreated, UploadResult{Mensaje: "Archivo subido exitosamente", URL: fileURL})
}

// HandleFileDownload serves a stored upload by its stored name.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, errFileNotFound)
		return
	}
	path := filepath.Join(s.uploadDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, errFileNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

func saveUpload(path string, src io.Reader) (int64, error) {
	dest, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(dest, src)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return written, nil
}

// secureFilename reduces a client supplied name to a safe base name of
// ASCII letters, digits, dots, hyphens and underscores.
func secureFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('_')
		}
	}
	cleaned := strings.Trim(sb.String(), "._")
	if cleaned == "" {
		return "archivo"
	}
	return cleaned
}
