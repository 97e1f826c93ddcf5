// Package push delivers Web Push notifications signed with the server's
// VAPID key pair.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/fanout"
)

// Config holds VAPID credentials and delivery options.
type Config struct {
	// Subscriber is the contact the push service may reach, e.g.
	// "mailto:ops@auction.example".
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// TTL is how long the push service keeps an undelivered message.
	TTL time.Duration
}

// Sender implements fanout.PushSender over the Web Push protocol.
type Sender struct {
	cfg    Config
	client *http.Client
}

// NewSender creates a Sender. A nil client gets a default one with a
// 10-second timeout.
func NewSender(cfg Config, client *http.Client) (*Sender, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("push: VAPID key pair is required")
	}
	if cfg.Subscriber == "" {
		return nil, errors.New("push: subscriber contact is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{cfg: cfg, client: client}, nil
}

// PublicKey returns the VAPID public key browsers need to subscribe.
func (s *Sender) PublicKey() string { return s.cfg.VAPIDPublicKey }

// Send encrypts payload for the subscription and posts it to its endpoint.
// 404 and 410 responses mean the endpoint is gone and map to
// domain.ErrSubscriptionExpired.
func (s *Sender) Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             int(s.cfg.TTL.Seconds()),
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("push: endpoint returned %d: %w", resp.StatusCode, domain.ErrSubscriptionExpired)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// GenerateKeys creates a fresh VAPID key pair for first-time setup.
func GenerateKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("push: generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}

var _ fanout.PushSender = (*Sender)(nil)
