package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultRequestTimeout = 10 * time.Second

var errUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx reply from the backend. Message holds the server's
// "error" field and is empty when the body carried none.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == errUnauthorized && e.Status == http.StatusUnauthorized
}

// errorMessage picks the server's error text, or fallback when the call
// failed without one.
func errorMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

type loginRequest struct {
	Usuario  string `json:"usuario"`
	Password string `json:"password"`
}

type loginResponse struct {
	Mensaje string `json:"mensaje,omitempty"`
	Token   string `json:"token"`
}

type createRoomRequest struct {
	Tipo RoomType `json:"tipo"`
}

// CreatedRoom is the reply of the create-room endpoint.
type CreatedRoom struct {
	Mensaje string   `json:"mensaje,omitempty"`
	IDSala  string   `json:"id_sala"`
	PIN     string   `json:"pin"`
	Tipo    RoomType `json:"tipo"`
}

// UploadResult is the reply of the upload endpoint.
type UploadResult struct {
	Mensaje string `json:"mensaje,omitempty"`
	URL     string `json:"url"`
}

// APIClient calls the REST side of the backend.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// NewAPIClient builds a client rooted at baseURL. Every request is bounded by
// timeout.
func NewAPIClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *APIClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "salachat/" + Version,
		logger:     logger,
	}
}

// BaseURL is the backend origin, used to resolve attachment urls.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// AdminLogin exchanges credentials for a bearer token.
func (c *APIClient) AdminLogin(ctx context.Context, usuario, password string) (string, error) {
	var resp loginResponse
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/admin-login", "", loginRequest{Usuario: usuario, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("login response without token")
	}
	return resp.Token, nil
}

func (c *APIClient) CreateRoom(ctx context.Context, token string, tipo RoomType) (*CreatedRoom, error) {
	var resp CreatedRoom
	if err := c.doJSONRequest(ctx, http.MethodPost, "/api/crear-sala", token, createRoomRequest{Tipo: tipo}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) ListRooms(ctx context.Context, token string) ([]Room, error) {
	var rooms []Room
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/admin/salas", token, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *APIClient) RoomHistory(ctx context.Context, token, roomID string) (*Room, error) {
	var room Room
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/admin/sala/"+url.PathEscape(roomID), token, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *APIClient) DeleteRoom(ctx context.Context, token, roomID string) error {
	return c.doJSONRequest(ctx, http.MethodDelete, "/api/admin/sala/"+url.PathEscape(roomID), token, nil, nil)
}

// Upload posts the file at path together with the socket id that identifies
// the sender's chat session.
func (c *APIClient) Upload(ctx context.Context, path, socketID string) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.WriteField("socket_id", socketID); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result UploadResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) doJSONRequest(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", req.Method).Str("path", req.URL.Path).Msg("request failed")
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readResponseError(resp)
		c.logger.Info().Int("status", apiErr.Status).Str("path", req.URL.Path).Str("error", apiErr.Message).Msg("request rejected")
		return apiErr
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readResponseError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		apiErr.Message = parsed.Error
	}
	return apiErr
}
