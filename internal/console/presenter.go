// Package console is the terminal front end: it renders the session state
// as text and turns input lines into session commands.
package console

import (
	"athena/internal/models"
	"athena/internal/pagination"
	"athena/internal/ws"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const (
	// DefaultHeight is the number of lines shown when a chat is opened.
	DefaultHeight = 20
	bottomSlack   = 1
)

// Presenter writes the session state to a terminal. The message view is
// kept as a line viewport so that loading older history leaves the lines
// the user was reading where they were.
type Presenter struct {
	mu      sync.Mutex
	w       io.Writer
	userID  int64
	visible bool

	chats     []models.ChatSummary
	active    int64
	listShown bool

	lines []string
	view  pagination.LineViewport

	self, other, dim, warn *color.Color
}

func NewPresenter(w io.Writer, userID int64, height int) *Presenter {
	if height <= 0 {
		height = DefaultHeight
	}
	return &Presenter{
		w:       w,
		userID:  userID,
		visible: true,
		view:    pagination.LineViewport{Height: height},
		self:    color.New(color.FgGreen, color.Bold),
		other:   color.New(color.FgCyan, color.Bold),
		dim:     color.New(color.Faint),
		warn:    color.New(color.FgRed),
	}
}

func (p *Presenter) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// ChatsChanged stores the list. It is printed the first time and on
// request.
func (p *Presenter) ChatsChanged(chats []models.ChatSummary, active int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = slices.Clone(chats)
	if active == 0 && p.active != 0 {
		p.printf("%s\n", p.dim.Sprintf("── %s closed ──", p.chatName(p.active)))
		p.active = 0
		p.lines = nil
		p.view = pagination.LineViewport{Height: p.view.Height}
	}
	if !p.listShown {
		p.listShown = true
		p.printChats(active)
	}
}

// ShowChats prints the latest chat list.
func (p *Presenter) ShowChats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printChats(p.active)
}

func (p *Presenter) printChats(active int64) {
	if len(p.chats) == 0 {
		p.printf("%s\n", p.dim.Sprint("no chats yet, start one with /new <user id>"))
		return
	}
	for _, c := range p.chats {
		mark := " "
		if c.ID == active {
			mark = "*"
		}
		badge := ""
		if b := c.UnreadBadge(); b != "" {
			badge = p.self.Sprintf(" (%s)", b)
		}
		when := ""
		if !c.LastMessageAt.IsZero() {
			when = c.LastMessageAt.Local().Format("02/01 15:04")
		}
		p.printf("%s %4d  %s%s  %s %s\n", mark, c.ID, c.DisplayName(), badge, p.dim.Sprint(when), c.LastContent)
	}
}

func (p *Presenter) chatName(chatID int64) string {
	for _, c := range p.chats {
		if c.ID == chatID {
			return c.DisplayName()
		}
	}
	return fmt.Sprintf("chat %d", chatID)
}

// MessagesChanged redraws the active chat according to scroll.
func (p *Presenter) MessagesChanged(chatID int64, messages []models.Message, scroll pagination.Scroll) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := p.render(messages)
	if chatID != p.active {
		p.active = chatID
		p.lines = nil
		p.view = pagination.LineViewport{Height: p.view.Height}
		p.printf("%s\n", p.dim.Sprintf("── %s ──", p.chatName(chatID)))
	}
	prev := p.lines
	p.lines = lines

	switch scroll {
	case pagination.ScrollBottom:
		start := len(lines) - p.view.Height
		if isPrefix(prev, lines) && p.view.Lines > 0 {
			start = len(prev)
		}
		p.view.Lines = len(lines)
		pagination.ScrollToBottom(&p.view)
		p.printLines(lines[max(start, 0):])

	case pagination.ScrollPreserve:
		anchor := pagination.CaptureAnchor(&p.view)
		p.view.Lines = len(lines)
		anchor.Restore(&p.view)
		added := len(lines) - len(prev)
		if added <= 0 {
			p.printf("%s\n", p.dim.Sprint("no older messages"))
			return
		}
		p.printf("%s\n", p.dim.Sprint("── older messages ──"))
		p.printLines(lines[:added])
		p.printf("%s\n", p.dim.Sprint("──"))

	default:
		p.view.Lines = len(lines)
		if len(prev) == 0 && len(lines) > 0 {
			p.printLines(lines[max(len(lines)-p.view.Height, 0):])
			pagination.ScrollToBottom(&p.view)
		}
	}
}

func (p *Presenter) printLines(lines []string) {
	for _, l := range lines {
		p.printf("%s\n", l)
	}
}

func (p *Presenter) render(messages []models.Message) []string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		name := p.other.Sprint(m.SenderName)
		if m.SenderID == p.userID {
			name = p.self.Sprint(m.SenderName)
		}
		when := p.dim.Sprintf("[%s]", m.SentAt.Local().Format("15:04"))
		if m.Content != "" {
			for i, text := range strings.Split(m.Content, "\n") {
				if i == 0 {
					lines = append(lines, fmt.Sprintf("%s %s: %s", when, name, text))
					continue
				}
				lines = append(lines, "        "+text)
			}
		} else {
			lines = append(lines, fmt.Sprintf("%s %s:", when, name))
		}
		for _, a := range m.Attachments {
			lines = append(lines, fmt.Sprintf("        [file %s] %s (%s)", a.FileID, a.Name, a.MimeType))
		}
	}
	return lines
}

func isPrefix(prefix, lines []string) bool {
	return len(prefix) <= len(lines) && slices.Equal(prefix, lines[:len(prefix)])
}

func (p *Presenter) ConnectionChanged(state ws.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.dim.Sprintf("connection: %s", state))
}

func (p *Presenter) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(err, ws.ErrNotConnected) {
		p.printf("%s\n", p.warn.Sprint("not connected, message not sent; reconnecting"))
		return
	}
	p.printf("%s\n", p.warn.Sprintf("error: %v", err))
}

func (p *Presenter) SessionExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.warn.Sprint("session expired, log in again with -login"))
}

func (p *Presenter) AttachmentSaved(att models.Attachment, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.dim.Sprintf("saved %s to %s", att.Name, path))
}

func (p *Presenter) UsersListed(users []models.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(users) == 0 {
		p.printf("%s\n", p.dim.Sprint("no users"))
		return
	}
	p.printUsers(users)
}

func (p *Presenter) printUsers(users []models.User) {
	for _, u := range users {
		name := p.other.Sprint(u.Name)
		if u.ID == p.userID {
			name = p.self.Sprint(u.Name)
		}
		p.printf("  %4d  %s %s\n", u.ID, name, p.dim.Sprint(u.Email))
	}
}

func (p *Presenter) GroupsListed(groups []models.Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(groups) == 0 {
		p.printf("%s\n", p.dim.Sprint("no groups"))
		return
	}
	for _, g := range groups {
		p.printf("  %4d  %s %s\n", g.ID, g.Name, p.dim.Sprintf("(chat %d, %d members)", g.ChatID, len(g.Members)))
	}
}

func (p *Presenter) GroupShown(g models.Group, available []models.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.dim.Sprintf("── group %d: %s ──", g.ID, g.Name))
	if g.Description != "" {
		p.printf("%s\n", g.Description)
	}
	p.printf("members:\n")
	p.printUsers(g.Members)
	if len(available) > 0 {
		p.printf("can be added:\n")
		p.printUsers(available)
	}
}

// AtBottom reports whether the newest message is in view.
func (p *Presenter) AtBottom() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pagination.AtBottom(&p.view, bottomSlack)
}

// Visible reports whether the user is looking at the active chat. It is
// false while away mode is on, so messages there notify as well.
func (p *Presenter) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// ToggleAway switches away mode and returns whether it is now on.
func (p *Presenter) ToggleAway() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = !p.visible
	return !p.visible
}

// Info prints a plain status line.
func (p *Presenter) Info(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printf("%s\n", p.dim.Sprintf(format, args...))
}
