package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the smail API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:5001"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// AuthResponse captures the token payload emitted by register and login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Register creates an account and returns the signed-in session.
func (c *Client) Register(ctx context.Context, email, password, name string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	if strings.TrimSpace(name) != "" {
		body["name"] = name
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Email represents API email payloads.
type Email struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
	Starred bool      `json:"starred"`
	Read    bool      `json:"read"`
	Folder  string    `json:"folder"`
}

// ListEmails returns the caller's emails, optionally filtered by folder and
// search text.
func (c *Client) ListEmails(ctx context.Context, token, folder, search string) ([]Email, error) {
	query := url.Values{}
	if strings.TrimSpace(folder) != "" {
		query.Set("folder", folder)
	}
	if strings.TrimSpace(search) != "" {
		query.Set("search", search)
	}
	path := "/api/emails"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var emails []Email
	if err := c.do(ctx, http.MethodGet, path, nil, token, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// GetEmail fetches a single email by id.
func (c *Client) GetEmail(ctx context.Context, token, id string) (Email, error) {
	path := fmt.Sprintf("/api/emails/%s", url.PathEscape(id))
	var email Email
	if err := c.do(ctx, http.MethodGet, path, nil, token, &email); err != nil {
		return Email{}, err
	}
	return email, nil
}

// SendEmailInput captures the payload for sending an email.
type SendEmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SendEmail delivers a new email and returns the stored sent copy.
func (c *Client) SendEmail(ctx context.Context, token string, input SendEmailInput) (Email, error) {
	var email Email
	if err := c.do(ctx, http.MethodPost, "/api/emails", input, token, &email); err != nil {
		return Email{}, err
	}
	return email, nil
}

// UpdateEmailInput carries the fields to change; nil fields are left alone.
type UpdateEmailInput struct {
	Read    *bool   `json:"read,omitempty"`
	Starred *bool   `json:"starred,omitempty"`
	Folder  *string `json:"folder,omitempty"`
}

// UpdateEmail patches flags or folder on an email.
func (c *Client) UpdateEmail(ctx context.Context, token, id string, input UpdateEmailInput) (Email, error) {
	path := fmt.Sprintf("/api/emails/%s", url.PathEscape(id))
	var email Email
	if err := c.do(ctx, http.MethodPatch, path, input, token, &email); err != nil {
		return Email{}, err
	}
	return email, nil
}

// DeleteEmail moves an email to trash, or purges it when already trashed.
// The second return reports whether the email was permanently removed.
func (c *Client) DeleteEmail(ctx context.Context, token, id string) (bool, error) {
	path := fmt.Sprintf("/api/emails/%s", url.PathEscape(id))
	var payload map[string]any
	if err := c.do(ctx, http.MethodDelete, path, nil, token, &payload); err != nil {
		return false, err
	}
	_, purged := payload["message"]
	return purged, nil
}

// Attachment models attachment metadata for an email.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// ListAttachments returns attachment metadata for an email.
func (c *Client) ListAttachments(ctx context.Context, token, id string) ([]Attachment, error) {
	path := fmt.Sprintf("/api/emails/%s/attachments", url.PathEscape(id))
	var attachments []Attachment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &attachments); err != nil {
		return nil, err
	}
	return attachments, nil
}

// FolderCounts mirrors the folder summary endpoint.
type FolderCounts struct {
	Inbox   int `json:"inbox"`
	Unread  int `json:"unread"`
	Sent    int `json:"sent"`
	Archive int `json:"archive"`
	Trash   int `json:"trash"`
}

// GetFolderCounts returns per-folder message counts for the caller.
func (c *Client) GetFolderCounts(ctx context.Context, token string) (FolderCounts, error) {
	var counts FolderCounts
	if err := c.do(ctx, http.MethodGet, "/api/folders/counts", nil, token, &counts); err != nil {
		return FolderCounts{}, err
	}
	return counts, nil
}
