// Package pagination loads a chat's history page by page, newest page
// first, and keeps the reader's place while older pages are prepended.
package pagination

import (
	"athena/internal/chat"
	"athena/internal/models"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrStale = errors.New("stale page result")

// Fetcher retrieves one page of a chat's history in chronological order.
type Fetcher interface {
	ListMessages(ctx context.Context, chatID int64, page, size int) ([]models.Message, error)
}

type Scroll int

const (
	ScrollNone Scroll = iota
	// ScrollBottom jumps to the newest message.
	ScrollBottom
	// ScrollPreserve keeps the previously visible message in place.
	ScrollPreserve
)

func (s Scroll) String() string {
	switch s {
	case ScrollBottom:
		return "bottom"
	case ScrollPreserve:
		return "preserve"
	}
	return "none"
}

// State is the pagination state of the active chat.
type State struct {
	ChatID    int64
	Page      int
	Size      int
	Exhausted bool
	InFlight  bool
}

// Request identifies one page fetch. Results are applied only while the
// request is still current.
type Request struct {
	ChatID  int64
	Page    int
	Size    int
	Initial bool

	epoch uint64
}

type Outcome struct {
	Scroll    Scroll
	Added     int
	Exhausted bool
	// Skipped is set when no fetch was issued.
	Skipped bool
}

type Controller struct {
	size  int
	state State
	epoch uint64
	log   *slog.Logger

	mux sync.Mutex
}

func NewController(size int, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		size: size,
		log:  log.With("component", "pagination"),
	}
}

func (c *Controller) State() State {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.state
}

// BeginInitial resets the state for chatID and issues page 0. Any request
// still in flight becomes stale.
func (c *Controller) BeginInitial(chatID int64) Request {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.epoch++
	c.state = State{ChatID: chatID, Size: c.size, InFlight: true}
	return Request{ChatID: chatID, Page: 0, Size: c.size, Initial: true, epoch: c.epoch}
}

// BeginOlder issues the next older page. It returns false when chatID is not
// the paginated chat, its history is exhausted, or a fetch is in flight.
func (c *Controller) BeginOlder(chatID int64) (Request, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	switch {
	case c.epoch == 0 || c.state.ChatID != chatID:
		return Request{}, false
	case c.state.Exhausted, c.state.InFlight:
		return Request{}, false
	}
	c.state.InFlight = true
	return Request{ChatID: chatID, Page: c.state.Page + 1, Size: c.size, epoch: c.epoch}, true
}

// Reset forgets the current chat. Outstanding requests become stale.
func (c *Controller) Reset() {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.epoch++
	c.state = State{}
}

// Current reports whether results of req may still be applied.
func (c *Controller) Current(req Request) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.current(req)
}

// current must be called with mux held.
func (c *Controller) current(req Request) bool {
	return req.epoch == c.epoch && req.ChatID == c.state.ChatID
}

// Complete applies a fetched page to tl:
// - an initial page replaces the list and scrolls to the bottom
// - an older page is prepended and the reader's position is preserved
// A result for a request that is no longer current returns ErrStale and
// leaves both the state and tl untouched.
func (c *Controller) Complete(req Request, page []models.Message, tl *chat.Timeline) (Outcome, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if !c.current(req) {
		c.log.Debug("stale page discarded", "chat_id", req.ChatID, "page", req.Page)
		return Outcome{}, ErrStale
	}
	if tl.ChatID != req.ChatID {
		return Outcome{}, fmt.Errorf("page for chat %d applied to chat %d", req.ChatID, tl.ChatID)
	}

	c.state.InFlight = false
	c.state.Page = req.Page
	c.state.Exhausted = len(page) < req.Size

	out := Outcome{Exhausted: c.state.Exhausted}
	if req.Initial {
		tl.Replace(page)
		out.Added = len(page)
		out.Scroll = ScrollBottom
	} else {
		out.Added = tl.Prepend(page)
		out.Scroll = ScrollPreserve
	}

	c.log.Debug("page loaded",
		"chat_id", req.ChatID,
		"page", req.Page,
		"count", len(page),
		"exhausted", c.state.Exhausted,
	)
	return out, nil
}

// Fail clears the in-flight flag after a failed fetch so the page can be
// requested again.
func (c *Controller) Fail(req Request) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.current(req) {
		c.state.InFlight = false
	}
}

// LoadInitialPage fetches and applies page 0 of chatID.
func (c *Controller) LoadInitialPage(ctx context.Context, chatID int64, f Fetcher, tl *chat.Timeline) (Outcome, error) {
	req := c.BeginInitial(chatID)
	return c.load(ctx, req, f, tl)
}

// LoadOlderPage fetches and prepends the next older page. It issues no
// fetch when the history is exhausted or another fetch is in flight.
func (c *Controller) LoadOlderPage(ctx context.Context, chatID int64, f Fetcher, tl *chat.Timeline) (Outcome, error) {
	req, ok := c.BeginOlder(chatID)
	if !ok {
		return Outcome{Skipped: true}, nil
	}
	return c.load(ctx, req, f, tl)
}

func (c *Controller) load(ctx context.Context, req Request, f Fetcher, tl *chat.Timeline) (Outcome, error) {
	page, err := f.ListMessages(ctx, req.ChatID, req.Page, req.Size)
	if err != nil {
		c.Fail(req)
		return Outcome{}, fmt.Errorf("failed to load page %d of chat %d: %w", req.Page, req.ChatID, err)
	}
	return c.Complete(req, page, tl)
}
