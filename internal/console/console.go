package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Commands is what the console can ask of the session.
type Commands interface {
	ActivateChat(chatID int64)
	LoadOlder()
	Send(text string)
	SendFile(path string)
	SaveAttachment(fileID string)
	CreateChat(userIDs ...int64)
	CloseChat()
	Reload()
	Logout()

	ListUsers()
	ListGroups()
	ShowGroup(groupID int64)
	RenameGroup(groupID int64, name string)
	AddMember(groupID, userID int64)
	RemoveMember(groupID, userID int64)
	DeleteGroup(groupID int64)
}

const help = `commands:
  /chats            list chats
  /open <id>        open a chat
  /older            load older messages
  /file <path>      send a file
  /save <file id>   download an attachment of the open chat
  /close            close the open chat
  /new <id> [id..]  start a chat (several ids create a group)
  /users            list users
  /groups           list your groups
  /group <id>                 show a group and who can join
  /group <id> rename <name>   rename a group
  /group <id> add <user id>   add a member
  /group <id> remove <user id>
  /group <id> delete
  /reload           fetch the chat list again
  /away             toggle away mode (notify for the open chat too)
  /logout           log out and quit
  /quit             quit
anything else is sent to the open chat`

var errUsage = errors.New("invalid arguments, see /help")

type Console struct {
	session   Commands
	presenter *Presenter
	in        io.Reader
}

func New(session Commands, presenter *Presenter, in io.Reader) *Console {
	return &Console{session: session, presenter: presenter, in: in}
}

// Run reads commands until /quit, /logout, the end of input or ctx is
// cancelled.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			quit, err := c.Handle(line)
			if err != nil {
				c.presenter.Error(err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Handle runs one input line. It reports true when the console should stop.
func (c *Console) Handle(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		c.session.Send(line)
		return false, nil
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/help":
		c.presenter.Info("%s", help)
	case "/chats":
		c.presenter.ShowChats()
	case "/open":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return false, errUsage
		}
		c.session.ActivateChat(id)
	case "/older":
		c.session.LoadOlder()
	case "/close":
		c.session.CloseChat()
	case "/file":
		if rest == "" {
			return false, errUsage
		}
		c.session.SendFile(rest)
	case "/save":
		if rest == "" {
			return false, errUsage
		}
		c.session.SaveAttachment(rest)
	case "/new":
		ids, err := parseIDs(rest)
		if err != nil {
			return false, err
		}
		c.session.CreateChat(ids...)
	case "/users":
		c.session.ListUsers()
	case "/groups":
		c.session.ListGroups()
	case "/group":
		return false, c.group(rest)
	case "/reload":
		c.session.Reload()
	case "/away":
		if c.presenter.ToggleAway() {
			c.presenter.Info("away: notifications on for every chat")
		} else {
			c.presenter.Info("back")
		}
	case "/logout":
		// The session stops itself once the logout is done.
		c.session.Logout()
	case "/quit", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s, see /help", cmd)
	}
	return false, nil
}

// group runs "/group <id> [action args]".
func (c *Console) group(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return errUsage
	}
	groupID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || groupID <= 0 {
		return fmt.Errorf("invalid group id %q", fields[0])
	}
	if len(fields) == 1 {
		c.session.ShowGroup(groupID)
		return nil
	}

	switch fields[1] {
	case "rename":
		if len(fields) < 3 {
			return errUsage
		}
		c.session.RenameGroup(groupID, strings.Join(fields[2:], " "))
	case "add", "remove":
		if len(fields) != 3 {
			return errUsage
		}
		userID, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", fields[2])
		}
		if fields[1] == "add" {
			c.session.AddMember(groupID, userID)
		} else {
			c.session.RemoveMember(groupID, userID)
		}
	case "delete":
		if len(fields) != 2 {
			return errUsage
		}
		c.session.DeleteGroup(groupID)
	default:
		return fmt.Errorf("unknown group action %s, see /help", fields[1])
	}
	return nil
}

func parseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil, errUsage
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
