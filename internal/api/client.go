// Package api is the client of the chat backend's REST interface.
package api

import (
	"athena/internal/models"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-Id"
	maxErrorBody    = 64 << 10
)

// ErrSessionExpired is returned for 401 and 403 responses.
var ErrSessionExpired = errors.New("session expired")

// StatusError is any other non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("request failed: %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	UserCacheTTL  time.Duration
	MaxUploadSize int64
	Logger        *slog.Logger
	// Transport overrides the default HTTP transport.
	Transport http.RoundTripper
}

type Client struct {
	base          *url.URL
	http          *http.Client
	jar           http.CookieJar
	users         geche.Geche[int64, models.User]
	maxUploadSize int64
	log           *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient builds a client. ctx bounds the lifetime of the user cache
// janitor.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.UserCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxUpload := cfg.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	return &Client{
		base: base,
		http: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		jar:           jar,
		users:         geche.NewMapTTLCache[int64, models.User](ctx, ttl, time.Minute),
		maxUploadSize: maxUpload,
		log:           log.With("component", "api"),
	}, nil
}

// Jar holds the session cookies; the broker handshake reuses it.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Session exports the current cookies and token.
func (c *Client) Session(user models.User) models.Credentials {
	cookies := c.jar.Cookies(c.base)
	creds := models.Credentials{
		User:    user,
		Token:   c.Token(),
		Cookies: make([]models.SessionCookie, 0, len(cookies)),
		SavedAt: time.Now(),
	}
	for _, ck := range cookies {
		creds.Cookies = append(creds.Cookies, models.SessionCookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Path:    ck.Path,
			Expires: ck.Expires,
		})
	}
	return creds
}

// SetSession restores cookies and token saved by Session.
func (c *Client) SetSession(creds models.Credentials) {
	cookies := make([]*http.Cookie, 0, len(creds.Cookies))
	for _, ck := range creds.Cookies {
		path := ck.Path
		if path == "" {
			path = "/"
		}
		cookies = append(cookies, &http.Cookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Path:    path,
			Expires: ck.Expires,
		})
	}
	c.jar.SetCookies(c.base, cookies)

	c.mu.Lock()
	c.token = creds.Token
	c.mu.Unlock()
}

// ClearSession forgets cookies and token.
func (c *Client) ClearSession() {
	cookies := c.jar.Cookies(c.base)
	for _, ck := range cookies {
		ck.Path = "/"
		ck.MaxAge = -1
	}
	c.jar.SetCookies(c.base, cookies)

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a JSON request and decodes a JSON response into out when out is
// not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response of %s: %w", req.URL.Path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrSessionExpired
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr models.APIError
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &apiErr) == nil {
		msg = apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
	}
	return &StatusError{Status: resp.StatusCode, Message: msg}
}
