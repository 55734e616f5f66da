// Package notify delivers desktop notifications and the notification
// sound for chats that are not in front of the user.
package notify

import (
	"athena/internal/chat"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
)

const defaultPushTTL = 60

type WebPushConfig struct {
	// SubscriptionFile is the browser's PushSubscription as JSON.
	SubscriptionFile string
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	Subscriber       string
	TTL              int
	// HTTPClient overrides the client used to reach the push service.
	HTTPClient webpush.HTTPClient
	Logger     *slog.Logger
}

type pushPayload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// WebPush sends notifications through a browser push subscription. It is
// granted permission only when a subscription and VAPID keys are
// configured.
type WebPush struct {
	sub     *webpush.Subscription
	options webpush.Options
	log     *slog.Logger

	mu         sync.Mutex
	permission chat.Permission
}

func NewWebPush(cfg WebPushConfig) (*WebPush, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultPushTTL
	}
	w := &WebPush{
		options: webpush.Options{
			Subscriber:      strings.TrimPrefix(cfg.Subscriber, "mailto:"),
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyNormal,
			HTTPClient:      cfg.HTTPClient,
		},
		log: log.With("component", "webpush"),
	}
	if cfg.SubscriptionFile == "" {
		return w, nil
	}

	data, err := os.ReadFile(cfg.SubscriptionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read push subscription: %w", err)
	}
	var sub webpush.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("invalid push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("push subscription %s has no endpoint", cfg.SubscriptionFile)
	}
	w.sub = &sub
	return w, nil
}

func (w *WebPush) configured() bool {
	return w.sub != nil && w.options.VAPIDPublicKey != "" && w.options.VAPIDPrivateKey != ""
}

func (w *WebPush) Permission() chat.Permission {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.permission
}

// RequestPermission settles the permission once: granted when the
// subscription is usable, denied otherwise.
func (w *WebPush) RequestPermission(ctx context.Context) (chat.Permission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.permission != chat.PermissionDefault {
		return w.permission, nil
	}
	if w.configured() {
		w.permission = chat.PermissionGranted
	} else {
		w.permission = chat.PermissionDenied
	}
	return w.permission, nil
}

func (w *WebPush) Notify(ctx context.Context, title, body string) error {
	if w.Permission() != chat.PermissionGranted {
		return nil
	}

	payload, err := json.Marshal(pushPayload{
		Title:     title,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	opts := w.options
	// Push services collapse pending messages that share a topic.
	opts.Topic = strings.ReplaceAll(uuid.NewString(), "-", "")

	resp, err := webpush.SendNotificationWithContext(ctx, payload, w.sub, &opts)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push service answered %d", resp.StatusCode)
	}
	w.log.Debug("push notification sent", "topic", opts.Topic)
	return nil
}
