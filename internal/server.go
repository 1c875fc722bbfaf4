package internal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"salachat/internal/socketio"
	"salachat/internal/storage"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength   = 6
	pinAlphabet    = "0123456789"

	DefaultMaxUploadSize = 10 << 20
	defaultTokenTTL      = 8 * time.Hour

	loginAttempts = 10
	loginWindow   = time.Minute
)

// ServerOptions configures the development backend.
type ServerOptions struct {
	UploadDir     string
	MaxUploadSize int64
	TokenTTL      time.Duration
	Logger        zerolog.Logger
	Socket        socketio.ServerConfig
}

// Server is the development backend: REST admin API, uploads and the
// Socket.IO chat rooms, backed by the sqlite store.
type Server struct {
	store        *storage.Store
	sockets      *socketio.Server
	hub          *Hub
	metrics      *Metrics
	loginLimiter *RateLimiter
	uploadDir    string
	maxUpload    int64
	tokenTTL     time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewServer wires the socket handlers. Routes returns the HTTP handler.
func NewServer(store *storage.Store, opts ServerOptions) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	server := &Server{
		store:        store,
		sockets:      socketio.NewServer(opts.Socket, opts.Logger.With().Str("component", "socketio").Logger()),
		hub:          NewHub(),
		metrics:      NewMetrics(),
		loginLimiter: NewRateLimiter(loginAttempts, loginWindow),
		uploadDir:    opts.UploadDir,
		maxUpload:    opts.MaxUploadSize,
		tokenTTL:     opts.TokenTTL,
		logger:       opts.Logger,
		now:          time.Now,
	}
	server.registerSocketHandlers()
	return server
}

// Routes builds the router for every endpoint the chat client consumes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Handle("/socket.io/*", s.sockets)

	r.Route("/api", func(r chi.Router) {
		r.Post("/admin-login", s.HandleAdminLogin)
		r.Post("/upload", s.HandleFileUpload)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/crear-sala", s.HandleCreateRoom)
			r.Get("/admin/salas", s.HandleListRooms)
			r.Get("/admin/sala/{id}", s.HandleRoomHistory)
			r.Delete("/admin/sala/{id}", s.HandleDeleteRoom)
		})
	})

	r.Get("/uploads/{filename}", s.HandleFileDownload)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	return r
}

// SeedAdmin creates the admin account if it does not exist yet.
func (s *Server) SeedAdmin(ctx context.Context, username, password string) error {
	existing, err := s.store.GetAdminByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		s.logger.Info().Str("admin", username).Msg("admin already exists")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := s.store.CreateAdmin(ctx, username, hash); err != nil && !errors.Is(err, storage.ErrAdminExists) {
		return fmt.Errorf("create admin: %w", err)
	}
	s.logger.Info().Str("admin", username).Msg("admin created")
	return nil
}

// Close disconnects every chat socket.
func (s *Server) Close() {
	s.sockets.Close()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/socket.io/" {
			return
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// newRoomIdentity draws a room id and a PIN.
func newRoomIdentity() (string, string, error) {
	id, err := randomString(roomIDAlphabet, roomIDLength)
	if err != nil {
		return "", "", err
	}
	pin, err := randomString(pinAlphabet, PINLength)
	if err != nil {
		return "", "", err
	}
	return id, pin, nil
}

func randomString(alphabet string, length int) (string, error) {
	out := make([]byte, length)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
