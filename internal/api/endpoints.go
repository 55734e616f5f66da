package api

import (
	"athena/internal/content"
	"athena/internal/models"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
)

const uploadField = "arquivo"

type loginResponse struct {
	models.User
	Token string `json:"token,omitempty"`
}

// Login authenticates with e-mail and password. The backend answers with
// the session cookie and, optionally, a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, models.LoginRequest{
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		return models.User{}, err
	}
	if resp.ID == 0 {
		return models.User{}, errors.New("login response carries no user")
	}
	if resp.Token != "" {
		c.mu.Lock()
		c.token = resp.Token
		c.mu.Unlock()
	}
	c.users.Set(resp.ID, resp.User)
	return resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/singout", nil, nil, nil)
}

func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/auth/user", nil, nil, &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/register", nil, req, nil)
}

// ListChats returns the caller's chats, most recently active first.
func (c *Client) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	if err := c.do(ctx, http.MethodGet, "/api/chats/meus-chats", nil, nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreatePrivateChat opens (or returns the existing) direct chat with userID.
func (c *Client) CreatePrivateChat(ctx context.Context, userID int64) (models.Chat, error) {
	q := url.Values{}
	q.Set("usuarioDestinoId", strconv.FormatInt(userID, 10))
	var chat models.Chat
	if err := c.do(ctx, http.MethodPost, "/api/chats/privado", q, nil, &chat); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// CreateGroupChat creates a group and returns it. The group's chat id is
// set by the backend.
func (c *Client) CreateGroupChat(ctx context.Context, name string, userIDs []int64) (models.Group, error) {
	var g models.Group
	err := c.do(ctx, http.MethodPost, "/api/grupos", nil, models.GroupRequest{
		Name:    name,
		UserIDs: userIDs,
	}, &g)
	if err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// ListMessages fetches one page of a chat's history.
func (c *Client) ListMessages(ctx context.Context, chatID int64, page, size int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var msgs []models.Message
	if err := c.do(ctx, http.MethodGet, "/api/mensagens/chat/"+strconv.FormatInt(chatID, 10), q, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/mensagens/%d/lida", messageID), nil, nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		c.users.Set(u.ID, u)
	}
	return users, nil
}

// GetUser returns a user, served from the cache while fresh.
func (c *Client) GetUser(ctx context.Context, userID int64) (models.User, error) {
	u, err := c.users.Get(userID)
	if err == nil {
		return u, nil
	}

	if err := c.do(ctx, http.MethodGet, "/api/users/"+strconv.FormatInt(userID, 10), nil, nil, &u); err != nil {
		return models.User{}, err
	}
	c.users.Set(userID, u)
	return u, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := c.do(ctx, http.MethodGet, "/api/grupos", nil, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	var g models.Group
	if err := c.do(ctx, http.MethodGet, groupPath(groupID), nil, nil, &g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

func (c *Client) UpdateGroup(ctx context.Context, groupID int64, req models.GroupRequest) (models.Group, error) {
	var g models.Group
	if err := c.do(ctx, http.MethodPut, groupPath(groupID), nil, req, &g); err != nil {
		return models.Group{}, err
	}
	return g, nil
}

// AvailableUsers lists the users that can still be added to a group.
func (c *Client) AvailableUsers(ctx context.Context, groupID int64) ([]models.User, error) {
	var users []models.User
	if err := c.do(ctx, http.MethodGet, groupPath(groupID)+"/usuarios-disponiveis", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) AddMember(ctx context.Context, groupID, userID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/usuarios/%d", groupPath(groupID), userID), nil, nil, nil)
}

func (c *Client) RemoveMember(ctx context.Context, groupID, userID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/usuarios/%d", groupPath(groupID), userID), nil, nil, nil)
}

func (c *Client) DeleteGroup(ctx context.Context, groupID int64) error {
	return c.do(ctx, http.MethodDelete, groupPath(groupID), nil, nil, nil)
}

func groupPath(groupID int64) string {
	return "/api/grupos/" + strconv.FormatInt(groupID, 10)
}

// Upload validates a file and sends it as multipart form data. Validation
// failures are returned before any request is made.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (models.Attachment, error) {
	limit := c.maxUploadSize
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	mime, err := content.ValidateUpload(data, int64(len(data)), limit)
	if err != nil {
		return models.Attachment{}, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, name))
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/arquivos", nil), &buf)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var att models.Attachment
	if err := c.send(req, &att); err != nil {
		return models.Attachment{}, err
	}
	if att.Name == "" {
		att.Name = name
	}
	if att.MimeType == "" {
		att.MimeType = mime
	}
	if att.Size == 0 {
		att.Size = int64(len(data))
	}
	return att, nil
}
