// Package session runs the client: a single loop owns the chat state and
// serialises live broker events, REST results and user commands.
package session

import (
	"athena/internal/api"
	"athena/internal/chat"
	"athena/internal/config"
	"athena/internal/models"
	"athena/internal/pagination"
	"athena/internal/storage"
	"athena/internal/ws"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var (
	ErrNoActiveChat      = errors.New("no chat selected")
	ErrNoRecipients      = errors.New("select at least one user")
	ErrUnknownAttachment = errors.New("no such attachment in this chat")
	ErrNoFileStore       = errors.New("saving attachments is disabled")
)

// API is the part of the REST client the session uses.
type API interface {
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
	ListMessages(ctx context.Context, chatID int64, page, size int) ([]models.Message, error)
	CreatePrivateChat(ctx context.Context, userID int64) (models.Chat, error)
	CreateGroupChat(ctx context.Context, name string, userIDs []int64) (models.Group, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
	Upload(ctx context.Context, name string, r io.Reader) (models.Attachment, error)
	Download(ctx context.Context, att models.Attachment) (io.ReadCloser, error)
	MarkRead(ctx context.Context, messageID int64) error

	ListUsers(ctx context.Context) ([]models.User, error)
	ListGroups(ctx context.Context) ([]models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (models.Group, error)
	UpdateGroup(ctx context.Context, groupID int64, req models.GroupRequest) (models.Group, error)
	AvailableUsers(ctx context.Context, groupID int64) ([]models.User, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	RemoveMember(ctx context.Context, groupID, userID int64) error
	DeleteGroup(ctx context.Context, groupID int64) error
}

type Auth interface {
	Logout(ctx context.Context) error
	Expire()
}

// Cache keeps chats and history for offline use. Writes are best effort.
type Cache interface {
	UpsertChats(chats []models.ChatSummary) error
	ListChats() ([]models.ChatSummary, error)
	UpsertMessages(messages []models.Message) error
	UpsertUpload(u storage.Upload) error
}

// Files keeps downloaded attachments.
type Files interface {
	Lookup(fileID, name string) (string, bool)
	Save(r io.Reader, fileID, name string) (string, error)
}

// Presenter renders the session state. All calls are made from the
// session loop, one at a time.
type Presenter interface {
	ChatsChanged(chats []models.ChatSummary, active int64)
	MessagesChanged(chatID int64, messages []models.Message, scroll pagination.Scroll)
	ConnectionChanged(state ws.State)
	Error(err error)
	SessionExpired()
	AttachmentSaved(att models.Attachment, path string)
	UsersListed(users []models.User)
	GroupsListed(groups []models.Group)
	// GroupShown renders a group. available is nil when it was not fetched.
	GroupShown(group models.Group, available []models.User)
	// AtBottom reports whether the newest message is in view.
	AtBottom() bool
}

type Config struct {
	User       models.User
	API        API
	Auth       Auth
	Conn       *ws.Manager
	Cache      Cache
	Files      Files
	Presenter  Presenter
	Notifier   chat.Notifier
	Sound      chat.Sound
	Visibility chat.Visibility
	PageSize   int
	Logger     *slog.Logger
}

type Session struct {
	user      models.User
	api       API
	auth      Auth
	conn      *ws.Manager
	cache     Cache
	files     Files
	presenter Presenter
	notifier  chat.Notifier
	engine    *chat.Engine
	pager     *pagination.Controller
	log       *slog.Logger

	cmds   chan func(ctx context.Context)
	events chan ws.Event
	done   chan struct{}
	wg     sync.WaitGroup

	// Loop owned.
	stopErr error
	stopped bool
}

func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	size := cfg.PageSize
	if size <= 0 {
		size = config.PageSize
	}
	return &Session{
		user:      cfg.User,
		api:       cfg.API,
		auth:      cfg.Auth,
		conn:      cfg.Conn,
		cache:     cfg.Cache,
		files:     cfg.Files,
		presenter: cfg.Presenter,
		notifier:  cfg.Notifier,
		engine: chat.NewEngine(chat.Config{
			UserID:     cfg.User.ID,
			Notifier:   cfg.Notifier,
			Sound:      cfg.Sound,
			Visibility: cfg.Visibility,
			Logger:     log,
		}),
		pager:  pagination.NewController(size, log),
		log:    log.With("component", "session", "user_id", cfg.User.ID),
		cmds:   make(chan func(ctx context.Context), 16),
		events: make(chan ws.Event),
		done:   make(chan struct{}),
	}
}

// Run processes commands and events until ctx is cancelled, the user logs
// out or the backend expires the session. It returns api.ErrSessionExpired
// in the last case.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(s.done)
		s.conn.Disconnect()
		s.wg.Wait()
	}()

	states := s.conn.StateChanges()
	for !s.stopped {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.cmds:
			fn(ctx)
		case st := <-states:
			s.onState(ctx, st)
		case ev := <-s.events:
			s.onEvent(ctx, ev)
		}
	}
	return s.stopErr
}

// post hands fn to the loop. It reports false once the loop has exited.
func (s *Session) post(fn func(ctx context.Context)) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

// async runs work off the loop and posts its continuation back.
func (s *Session) async(ctx context.Context, work func(ctx context.Context) func(ctx context.Context)) {
	s.wg.Go(func() {
		next := work(ctx)
		if next != nil {
			s.post(next)
		}
	})
}

func (s *Session) stop(err error) {
	s.stopped = true
	s.stopErr = err
}

// fail converts an error from asynchronous work into presenter state.
func (s *Session) fail(ctx context.Context, err error) {
	if isSessionError(err) {
		s.expire()
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	s.log.Warn("operation failed", "error", err)
	s.presenter.Error(err)
}

func isSessionError(err error) bool {
	return errors.Is(err, api.ErrSessionExpired)
}

// expire forces a local logout after the backend rejected the session.
func (s *Session) expire() {
	if s.stopped {
		return
	}
	s.log.Warn("session expired")
	s.auth.Expire()
	s.conn.Disconnect()
	s.pager.Reset()
	s.presenter.SessionExpired()
	s.stop(api.ErrSessionExpired)
}

func (s *Session) onState(ctx context.Context, st ws.State) {
	s.presenter.ConnectionChanged(st)
	if st != ws.StateConnected {
		return
	}
	// Subscriptions do not survive a dropped transport.
	s.subscribe(ctx, ws.UserTopic(s.user.ID))
	if active, ok := s.engine.Active(); ok {
		s.subscribe(ctx, ws.ChatTopic(active))
	}
}

func (s *Session) subscribe(ctx context.Context, topic ws.Topic) {
	sub, err := s.conn.Registry().Subscribe(topic)
	if err != nil {
		return
	}
	s.wg.Go(func() {
		for ev := range sub.Events() {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	})
}

// connect starts a connection attempt; the result arrives as a state
// change or an error.
func (s *Session) connect(ctx context.Context) {
	s.async(ctx, func(ctx context.Context) func(context.Context) {
		if err := s.conn.Connect(ctx); err != nil {
			return func(ctx context.Context) { s.fail(ctx, err) }
		}
		return nil
	})
}
