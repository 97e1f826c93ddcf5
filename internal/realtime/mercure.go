package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/silentauction/internal/domain"
	"github.com/alanyoungcy/silentauction/internal/fanout"
)

// TokenSource mints publisher tokens.
type TokenSource interface {
	PublisherToken() (string, error)
}

// MercurePublisher posts updates to an external Mercure-compatible hub.
type MercurePublisher struct {
	hubURL string
	tokens TokenSource
	client *http.Client
}

// NewMercurePublisher creates a MercurePublisher for the given hub endpoint.
// A nil client gets a default one with a 5-second timeout.
func NewMercurePublisher(hubURL string, tokens TokenSource, client *http.Client) *MercurePublisher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &MercurePublisher{hubURL: hubURL, tokens: tokens, client: client}
}

// Publish sends one update. Each request carries a freshly minted token.
func (p *MercurePublisher) Publish(ctx context.Context, topic string, payload []byte, private bool) error {
	tok, err := p.tokens.PublisherToken()
	if err != nil {
		return fmt.Errorf("mercure: %w", err)
	}

	form := url.Values{}
	form.Set("topic", topic)
	form.Set("data", string(payload))
	if private {
		form.Set("private", "on")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("mercure: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("mercure: %w: %w", domain.ErrHubUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mercure: %w: unexpected status %d: %s",
			domain.ErrHubUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

var _ fanout.Publisher = (*MercurePublisher)(nil)
