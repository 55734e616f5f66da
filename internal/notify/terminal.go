package notify

import (
	"athena/internal/chat"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Terminal prints notifications as a highlighted line.
type Terminal struct {
	mu    sync.Mutex
	w     io.Writer
	title *color.Color
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{
		w:     w,
		title: color.New(color.FgYellow, color.Bold),
	}
}

func (t *Terminal) Permission() chat.Permission {
	return chat.PermissionGranted
}

func (t *Terminal) RequestPermission(ctx context.Context) (chat.Permission, error) {
	return chat.PermissionGranted, nil
}

func (t *Terminal) Notify(ctx context.Context, title, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s %s\n", t.title.Sprintf("[%s]", title), body)
	return err
}

// Bell is the short notification sound: the terminal bell.
type Bell struct {
	W io.Writer
}

func (b Bell) Play() error {
	_, err := io.WriteString(b.W, "\a")
	return err
}

// Multi fans a notification out to every sink that has permission.
type Multi []chat.Notifier

// Permission is granted when any sink is granted.
func (m Multi) Permission() chat.Permission {
	p := chat.PermissionDenied
	for _, n := range m {
		switch n.Permission() {
		case chat.PermissionGranted:
			return chat.PermissionGranted
		case chat.PermissionDefault:
			p = chat.PermissionDefault
		}
	}
	return p
}

func (m Multi) RequestPermission(ctx context.Context) (chat.Permission, error) {
	var errs []error
	for _, n := range m {
		if _, err := n.RequestPermission(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return m.Permission(), errors.Join(errs...)
}

func (m Multi) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if n.Permission() != chat.PermissionGranted {
			continue
		}
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
