package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Parley/internal/domain"
)

const tokenCacheTTL = time.Hour

type cachedToken struct {
	token     string
	fetchedAt time.Time
}

// TokenSource fetches media tokens from the relay and caches them per
// channel and user for an hour.
type TokenSource struct {
	base   string
	client *http.Client
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

func NewTokenSource(base string, client *http.Client) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{
		base:   strings.TrimRight(base, "/"),
		client: client,
		now:    time.Now,
		cache:  make(map[string]cachedToken),
	}
}

// HTTPBase turns the relay websocket URL into its http origin.
func HTTPBase(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (s *TokenSource) Token(ctx context.Context, channel domain.ChannelName, uid domain.UserID) (string, error) {
	key := string(channel) + "\x00" + string(uid)
	s.mu.Lock()
	c, ok := s.cache[key]
	s.mu.Unlock()
	if ok && s.now().Sub(c.fetchedAt) < tokenCacheTTL {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{"channel": string(channel), "uid": string(uid)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/api/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	s.mu.Lock()
	s.cache[key] = cachedToken{token: out.Token, fetchedAt: s.now()}
	s.mu.Unlock()
	return out.Token, nil
}
