package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/services"
)

// TokenSource supplies bearer tokens for feed API requests. Injectable so
// tests can bypass signing.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HMACTokenSource self-signs HS256 JWTs from the configured API key and
// caches them until shortly before expiry.
type HMACTokenSource struct {
	apiKey   string
	apiKeyID string
	appID    string
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// NewTokenSource builds a token source from the feed config section.
func NewTokenSource(cfg *config.Config) *HMACTokenSource {
	return &HMACTokenSource{
		apiKey:   cfg.Feed.APIKey,
		apiKeyID: cfg.Feed.APIKeyID,
		appID:    cfg.Feed.AppID,
		ttl:      time.Duration(cfg.Feed.TokenTTL) * time.Second,
		now:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *HMACTokenSource) WithClock(now func() time.Time) {
	if s != nil && now != nil {
		s.now = now
	}
}

// Token returns a cached token, minting a new one when the cache is within
// the refresh margin of expiring.
func (s *HMACTokenSource) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Before(s.expiry) {
		return s.cached, nil
	}

	token, err := s.sign(now)
	if err != nil {
		return "", err
	}
	s.cached = token
	s.expiry = now.Add(s.ttl - s.refreshMargin())
	return token, nil
}

// refreshMargin is how long before true expiry a cached token is discarded,
// so in-flight requests never carry a token that dies mid-request.
func (s *HMACTokenSource) refreshMargin() time.Duration {
	margin := 100 * time.Second
	if s.ttl <= margin {
		return s.ttl / 2
	}
	return margin
}

func (s *HMACTokenSource) sign(now time.Time) (string, error) {
	if s.apiKey == "" || s.apiKeyID == "" || s.appID == "" {
		return "", services.Wrap(services.ErrConfiguration, "feed", "sign token",
			"feed api_key, api_key_id and app_id are all required", nil)
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT", "kid": s.apiKeyID}
	iat := now.Unix()
	payload := map[string]any{
		"iss": s.appID,
		"iat": iat,
		"exp": iat + int64(s.ttl/time.Second),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "feed", "sign token", "encode header", err)
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "feed", "sign token", "encode payload", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(s.apiKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
