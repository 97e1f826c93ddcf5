// Package realtime connects the notification fan-out to a pub/sub hub. It
// issues the JWTs the hub authorizes against, publishes updates either to
// an external Mercure-style hub over HTTP or over the Redis signal bus to the
// built-in WebSocket hub, and serves that hub.
package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alanyoungcy/silentauction/internal/clock"
	"github.com/alanyoungcy/silentauction/internal/domain"
)

const (
	DefaultPublisherTTL  = 60 * time.Second
	DefaultSubscriberTTL = time.Hour
)

// Topics names hub topics under a common base URI, e.g.
// "https://auction.example/" yields "https://auction.example/items/42".
type Topics struct {
	Base string
}

// Item returns the public topic for an item.
func (t Topics) Item(itemID string) string { return t.base() + "items/" + itemID }

// Bidder returns the private topic for a bidder.
func (t Topics) Bidder(bidderID string) string { return t.base() + "bidders/" + bidderID }

// ItemTemplate is the URI template matching every item topic.
func (t Topics) ItemTemplate() string { return t.base() + "items/{id}" }

func (t Topics) base() string {
	if t.Base == "" || strings.HasSuffix(t.Base, "/") {
		return t.Base
	}
	return t.Base + "/"
}

// Grants lists the topic selectors a token may publish or subscribe to.
type Grants struct {
	Publish   []string `json:"publish,omitempty"`
	Subscribe []string `json:"subscribe,omitempty"`
}

// Claims is the JWT body understood by Mercure-compatible hubs.
type Claims struct {
	Mercure Grants `json:"mercure"`
	jwt.RegisteredClaims
}

// IssuerConfig holds the signing keys and lifetimes for hub tokens.
type IssuerConfig struct {
	PublisherKey  []byte
	SubscriberKey []byte
	PublisherTTL  time.Duration
	SubscriberTTL time.Duration
}

// Issuer mints and verifies HS256 hub tokens.
type Issuer struct {
	cfg    IssuerConfig
	topics Topics
	clk    clock.Clock
}

// NewIssuer creates an Issuer. Zero TTLs fall back to the defaults.
func NewIssuer(cfg IssuerConfig, topics Topics, clk clock.Clock) (*Issuer, error) {
	if len(cfg.PublisherKey) == 0 || len(cfg.SubscriberKey) == 0 {
		return nil, errors.New("realtime: publisher and subscriber keys are required")
	}
	if cfg.PublisherTTL <= 0 {
		cfg.PublisherTTL = DefaultPublisherTTL
	}
	if cfg.SubscriberTTL <= 0 {
		cfg.SubscriberTTL = DefaultSubscriberTTL
	}
	return &Issuer{cfg: cfg, topics: topics, clk: clk}, nil
}

// PublisherToken mints a single-use token allowed to publish to any topic.
// Every call produces a fresh jti.
func (i *Issuer) PublisherToken() (string, error) {
	return i.sign(i.cfg.PublisherKey, Grants{Publish: []string{"*"}}, i.cfg.PublisherTTL)
}

// SubscriberToken mints a token for the browser. Everyone may follow item
// updates; a bidder additionally receives their own private topic.
func (i *Issuer) SubscriberToken(bidderID string) (string, time.Time, error) {
	grants := Grants{Subscribe: []string{i.topics.ItemTemplate()}}
	if bidderID != "" {
		grants.Subscribe = append(grants.Subscribe, i.topics.Bidder(bidderID))
	}
	tok, err := i.sign(i.cfg.SubscriberKey, grants, i.cfg.SubscriberTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, i.clk.Now().Add(i.cfg.SubscriberTTL), nil
}

// VerifySubscriber parses a subscriber token and returns its grants.
func (i *Issuer) VerifySubscriber(token string) (Grants, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.cfg.SubscriberKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clk.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Grants{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	return claims.Mercure, nil
}

func (i *Issuer) sign(key []byte, grants Grants, ttl time.Duration) (string, error) {
	now := i.clk.Now()
	claims := Claims{
		Mercure: grants,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("realtime: sign token: %w", err)
	}
	return s, nil
}
