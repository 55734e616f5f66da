package models

import (
	"errors"
	"strconv"
)

var (
	ErrNotFound = errors.New("not found")
)

// User represents an account known to the chat backend.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"nome"`
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

// RegisterRequest creates a new account on the backend.
type RegisterRequest struct {
	Name     string `json:"nome"`
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type ChatType string

const (
	ChatTypeDirect ChatType = "PRIVADO"
	ChatTypeGroup  ChatType = "GRUPO"
)

// Chat represents a conversation, either direct or group.
type Chat struct {
	ID           int64     `json:"id"`
	Name         string    `json:"nome"`
	Type         ChatType  `json:"tipo"`
	Participants []User    `json:"participantes,omitempty"`
	CreatedAt    Timestamp `json:"criadoEm"`
	GroupID      int64     `json:"groupId,omitempty"`
}

// ChatSummary is the list-view rollup of a chat.
type ChatSummary struct {
	ID            int64     `json:"id"`
	Name          string    `json:"nome"`
	Type          ChatType  `json:"tipo"`
	LastContent   string    `json:"ultimoConteudo,omitempty"`
	LastMessageAt Timestamp `json:"ultimaMensagemEm"`
	Peer          string    `json:"outroUsuario,omitempty"` // Other participant of a direct chat
	Unread        int       `json:"quantidadeNaoLidas"`
	GroupID       int64     `json:"groupId,omitempty"`
}

// DisplayName returns the name shown in the conversation list.
func (s ChatSummary) DisplayName() string {
	if s.Type == ChatTypeDirect && s.Peer != "" {
		return s.Peer
	}
	return s.Name
}

// UnreadBadge is the unread counter as shown next to the chat. Empty when
// there is nothing unread.
func (s ChatSummary) UnreadBadge() string {
	switch {
	case s.Unread <= 0:
		return ""
	case s.Unread > 99:
		return "99+"
	}
	return strconv.Itoa(s.Unread)
}

// SummaryOf builds a fresh summary for a chat that has no activity yet.
func SummaryOf(c Chat, preview string, at Timestamp) ChatSummary {
	return ChatSummary{
		ID:            c.ID,
		Name:          c.Name,
		Type:          c.Type,
		LastContent:   preview,
		LastMessageAt: at,
		GroupID:       c.GroupID,
	}
}

// Message represents a chat message. Messages are immutable once received.
type Message struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chatId"`
	SenderID    int64        `json:"remetenteId"`
	SenderName  string       `json:"remetenteNome"`
	Content     string       `json:"conteudo"`
	SentAt      Timestamp    `json:"enviadoEm"`
	Read        bool         `json:"lida"`
	Attachments []Attachment `json:"anexos,omitempty"`
}

type Attachment struct {
	FileID   string `json:"id"`
	Name     string `json:"nome"`
	MimeType string `json:"tipo"`
	Size     int64  `json:"tamanho,omitempty"`
	URL      string `json:"url,omitempty"`
}

// OutgoingMessage is published to the broker to send a message.
type OutgoingMessage struct {
	ChatID      int64        `json:"chatId"`
	SenderID    int64        `json:"remetenteId"`
	SenderName  string       `json:"remetenteNome"`
	Content     string       `json:"conteudo"`
	Attachments []Attachment `json:"anexos,omitempty"`
}

// Notification is delivered on the per-user topic for activity in any chat.
type Notification struct {
	ChatID   int64     `json:"chatId"`
	ChatName string    `json:"chatNome"`
	Summary  string    `json:"conteudoResumo"`
	SentAt   Timestamp `json:"enviadoEm"`
	SenderID int64     `json:"remetenteId,omitempty"` // Zero when the backend omits it
}

// Group is a named multi-participant chat managed through the groups API.
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"nome"`
	Description string `json:"descricao"`
	ChatID      int64  `json:"chatId,omitempty"`
	Members     []User `json:"usuarios,omitempty"`
}

type GroupRequest struct {
	Name        string  `json:"nome"`
	Description string  `json:"descricao"`
	UserIDs     []int64 `json:"usuariosIds"`
}

// APIError is the error body returned by the backend.
type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
