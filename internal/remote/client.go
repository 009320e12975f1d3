package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/session"
)

const DefaultTimeout = 8 * time.Second

// GenericMessage is shown when the server gives no usable reason.
const GenericMessage = "Unable to reach the server. Please try again."

// maxBody caps how much of a response is read.
const maxBody = 32 << 20

// FetchError is a failed fetch or mutation. Transport is set when no HTTP
// response was received at all.
type FetchError struct {
	Status    int
	Message   string
	Transport bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %d: %s", e.Status, e.Message)
	}
	return "remote: " + e.Message
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets a 401 match session.ErrUnauthenticated.
func (e *FetchError) Is(target error) bool {
	return target == session.ErrUnauthenticated && e.Status == http.StatusUnauthorized
}

// Resource names a backend list endpoint and the keys its envelope may use.
type Resource struct {
	Path     string
	Singular string
	Plural   string
}

type Mutation struct {
	Method string
	Path   string
	Body   any
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		log:     slog.Default().With("module", "remote"),
	}
}

// WithLogger swaps the logger; nil keeps the current one.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	cp := *c
	if logger != nil {
		cp.log = logger.With("module", "remote")
	}
	return &cp
}

// WithHTTPClient swaps the underlying client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

func (c *Client) BaseURL() string { return c.baseURL }

// Fetch GETs a list resource and normalises its envelope. Rows are never
// partially returned: any failure yields nil rows and a *FetchError.
func (c *Client) Fetch(ctx context.Context, res Resource, token string, query url.Values) ([]report.Row, error) {
	target := c.baseURL + "/" + strings.TrimLeft(res.Path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, target, token, nil)
	if err != nil {
		return nil, err
	}

	var payload any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, &FetchError{Status: http.StatusOK, Message: "The server sent an unreadable response.", Err: err}
	}
	return Normalize(payload, res), nil
}

// Dispatch sends one create, update, delete or action call. The decoded
// response object is returned when there is one.
func (c *Client) Dispatch(ctx context.Context, m Mutation, token string) (report.Row, error) {
	method := strings.ToUpper(strings.TrimSpace(m.Method))
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported mutation method %q", m.Method)
	}

	var payload []byte
	if m.Body != nil {
		b, err := json.Marshal(m.Body)
		if err != nil {
			return nil, fmt.Errorf("encode mutation body: %w", err)
		}
		payload = b
	}
	body, err := c.do(ctx, method, c.baseURL+"/"+strings.TrimLeft(m.Path, "/"), token, payload)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return report.Row{}, nil
	}

	var out any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		c.log.Warn("mutation response is not JSON", "method", method, "path", m.Path, "error", err)
		return report.Row{}, nil
	}
	if obj, ok := out.(map[string]any); ok {
		if data, ok := obj["data"].(map[string]any); ok {
			return report.Row(data), nil
		}
		return report.Row(obj), nil
	}
	return report.Row{}, nil
}

// Login exchanges credentials for a bearer token at POST /auth/login.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/login", "", payload)
	if err != nil {
		return "", err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &FetchError{Status: http.StatusOK, Message: "The server sent an unreadable response.", Err: err}
	}
	token := firstString(out, "token", "access_token")
	if token == "" {
		if data, ok := out["data"].(map[string]any); ok {
			token = firstString(data, "token", "access_token")
		}
	}
	if token == "" {
		return "", &FetchError{Status: http.StatusOK, Message: "The server did not return a token."}
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, target, token string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("backend request failed", "method", method, "url", target, "request_id", requestID, "error", err)
		}
		return nil, &FetchError{Message: GenericMessage, Transport: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Message: GenericMessage, Transport: true, Err: err}
	}
	c.log.Debug("backend request", "method", method, "url", target, "status", resp.StatusCode, "request_id", requestID, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode, Message: serverMessage(body)}
	}
	return body, nil
}

func serverMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := firstString(payload, "message", "error", "msg"); msg != "" {
			return msg
		}
		if data, ok := payload["data"].(map[string]any); ok {
			if msg := firstString(data, "message", "error", "msg"); msg != "" {
				return msg
			}
		}
	}
	return GenericMessage
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
