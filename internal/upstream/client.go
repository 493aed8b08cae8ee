// Package upstream talks to the document backend. Every call forwards the caller's access
// token; nothing is cached here.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/expressiv/approvaldesk/internal/middleware"
)

var (
	ErrUnauthorized = errors.New("session expired, please sign in again")
	ErrNotFound     = errors.New("document not found")
)

const maxErrorBody = 64 << 10

// Envelope is the backend's standard response wrapper.
type Envelope struct {
	Status  bool            `json:"status"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return e.Message
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.Logger
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

// GetData fetches path and decodes the envelope's data into out. Bare JSON responses without
// an envelope are decoded as they are.
func (c *Client) GetData(ctx context.Context, token, path string, query url.Values, out any) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	body, err := c.do(ctx, token, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	data := json.RawMessage(bytes.TrimSpace(body))
	if env, ok := parseEnvelope(body); ok {
		if err := env.err(); err != nil {
			return err
		}
		data = env.Data
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Send issues a write with a JSON body. A 2xx response without an envelope yields a
// synthesized successful one.
func (c *Client) Send(ctx context.Context, token, method, path string, payload any) (*Envelope, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}
	body, err := c.do(ctx, token, method, path, reader)
	if err != nil {
		return nil, err
	}
	env, ok := parseEnvelope(body)
	if !ok {
		return &Envelope{Status: true, Code: http.StatusOK, Data: json.RawMessage(bytes.TrimSpace(body))}, nil
	}
	if err := env.err(); err != nil {
		return env, err
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := middleware.RequestIDFrom(ctx); id != "" {
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	started := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.Warn("upstream request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c.Logger.Debug("upstream request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}
	return raw, nil
}

func parseEnvelope(raw []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	_, hasStatus := fields["status"]
	_, hasData := fields["data"]
	if !hasStatus || !hasData {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// err reports a refused request. status:false is a failure even when code claims success;
// such codes are reported as 422.
func (e *Envelope) err() error {
	if e.Status {
		return nil
	}
	code := e.Code
	if code < 400 {
		code = http.StatusUnprocessableEntity
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request was not accepted"
	}
	return &APIError{StatusCode: code, Message: msg}
}

func errorMessage(raw []byte, status int) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Error, payload.Title} {
			if strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	return http.StatusText(status)
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"token"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	env, err := c.Send(ctx, "", http.MethodPost, "/api/authentication/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	var payload loginResponse
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	token := payload.AccessToken
	if token == "" {
		token = payload.Token
	}
	if token == "" {
		return "", &APIError{StatusCode: http.StatusBadGateway, Message: "login response carried no token"}
	}
	return token, nil
}
