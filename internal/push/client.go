package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

const sendTimeout = 10 * time.Second

// Client sends Web Push notifications to a user's subscribed browsers. With a
// nil keys pair the client is a no-op.
type Client struct {
	keys    *VAPIDKeys
	subject string
	repo    *repository.PushRepository
}

func NewClient(keys *VAPIDKeys, subject string, repo *repository.PushRepository) *Client {
	if subject == "" {
		subject = "mailto:admin@localhost"
	}
	return &Client{keys: keys, subject: subject, repo: repo}
}

type notePayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify fans a notification out to every subscription the user has.
// Implements delivery.Pusher; called for offline recipients only, on a
// best-effort basis, so failures are logged rather than returned.
func (c *Client) Notify(userID, title, body string) {
	if c.keys == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	subs, err := c.repo.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push notify list user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, err := json.Marshal(notePayload{Title: title, Body: body})
	if err != nil {
		logger.Errorf("push notify marshal: %v", err)
		return
	}
	for _, sub := range subs {
		go c.sendOne(sub, payload)
	}
}

func (c *Client) sendOne(sub model.PushSubscription, payload []byte) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		Subscriber:      c.subject,
		VAPIDPublicKey:  c.keys.PublicKey,
		VAPIDPrivateKey: c.keys.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		logger.Errorf("push send user=%s: %v", sub.UserID, err)
		return
	}
	defer resp.Body.Close()
	// The push service answers 404/410 for dead subscriptions; drop them.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := c.repo.DeleteEndpoint(ctx, sub.Endpoint); err != nil {
			logger.Errorf("push drop endpoint: %v", err)
		}
	}
}
